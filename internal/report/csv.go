package report

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"storemon/internal/model"
)

var Header = []string{
	"store_id",
	"uptime_last_hour",
	"uptime_last_day",
	"uptime_last_week",
	"downtime_last_hour",
	"downtime_last_day",
	"downtime_last_week",
}

// WriteCSV writes the header and one line per row. Hour columns are whole
// minutes; day and week columns are hours with two decimals.
func WriteCSV(w io.Writer, rows []model.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.StoreID,
			strconv.Itoa(r.UptimeLastHour),
			formatHours(r.UptimeLastDay),
			formatHours(r.UptimeLastWeek),
			strconv.Itoa(r.DowntimeLastHour),
			formatHours(r.DowntimeLastDay),
			formatHours(r.DowntimeLastWeek),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatHours(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// writeFile writes rows to dir/<id>.csv through a temporary file so readers
// never see a partial report.
func writeFile(dir, id string, rows []model.ReportRow) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, id+".csv")
	tmp, err := os.CreateTemp(dir, id+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if err := WriteCSV(tmp, rows); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
