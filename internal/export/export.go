// Package export renders a fleet snapshot as a downloadable file.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatExcel:
		return f, nil
	case "":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

type Options struct {
	Format                    Format
	IncludeEvents             bool
	IncludeAlerts             bool
	IncludePerformanceHistory bool
}

type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Header is the fixed CSV column set.
var Header = []string{
	"UPS ID",
	"Name",
	"Location",
	"Status",
	"Last Checked",
	"Battery Level (%)",
	"Temperature (°C)",
	"Power Input (W)",
	"Power Output (W)",
	"Efficiency (%)",
	"Uptime (%)",
	"Manufacturer",
	"Model",
	"Serial Number",
	"Capacity (VA)",
	"Critical Load (W)",
	"Installation Date",
	"Warranty Expiry",
	"Maintenance Schedule",
	"Next Maintenance",
}

const (
	contentTypeCSV  = "text/csv;charset=utf-8;"
	contentTypeJSON = "application/json;charset=utf-8;"
)

// BaseName is ups-export-<UTC timestamp to the second>, with ':' and '.'
// replaced so the name is safe on every filesystem.
func BaseName(now time.Time) string {
	return "ups-export-" + now.UTC().Format("2006-01-02T15-04-05")
}

// Export renders records in the requested format. "excel" is the CSV body
// under an .xlsx name; it is not a spreadsheet binary.
func Export(records []domain.UPS, opts Options, now time.Time) (*File, error) {
	base := BaseName(now)
	switch opts.Format {
	case FormatCSV, "":
		return &File{Name: base + ".csv", ContentType: contentTypeCSV, Data: CSV(records)}, nil
	case FormatExcel:
		return &File{Name: base + ".xlsx", ContentType: contentTypeCSV, Data: CSV(records)}, nil
	case FormatJSON:
		data, err := JSON(records, opts)
		if err != nil {
			return nil, err
		}
		return &File{Name: base + ".json", ContentType: contentTypeJSON, Data: data}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, opts.Format)
}

// CSV quotes every cell and separates rows with '\n'.
func CSV(records []domain.UPS) []byte {
	var buf bytes.Buffer
	writeRow(&buf, Header)
	for _, u := range records {
		buf.WriteByte('\n')
		writeRow(&buf, []string{
			u.UPSID,
			u.Name,
			u.Location,
			string(u.Status),
			u.LastChecked,
			num(u.BatteryLevel),
			num(u.Temperature),
			num(u.PowerInput),
			num(u.PowerOutput),
			num(u.Efficiency),
			num(u.Uptime),
			u.Manufacturer,
			u.Model,
			u.SerialNumber,
			num(u.Capacity),
			num(u.CriticalLoad),
			u.InstallationDate,
			u.WarrantyExpiry,
			u.MaintenanceSchedule,
			u.NextMaintenance,
		})
	}
	return buf.Bytes()
}

func writeRow(buf *bytes.Buffer, cells []string) {
	for i, c := range cells {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strings.ReplaceAll(c, `"`, `""`))
		buf.WriteByte('"')
	}
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

type record struct {
	UPSID               string            `json:"upsId"`
	Name                string            `json:"name"`
	Location            string            `json:"location"`
	Status              domain.Status     `json:"status"`
	LastChecked         string            `json:"lastChecked"`
	BatteryLevel        float64           `json:"batteryLevel"`
	Temperature         float64           `json:"temperature"`
	PowerInput          float64           `json:"powerInput"`
	PowerOutput         float64           `json:"powerOutput"`
	Efficiency          float64           `json:"efficiency"`
	Uptime              float64           `json:"uptime"`
	Manufacturer        string            `json:"manufacturer"`
	Model               string            `json:"model"`
	SerialNumber        string            `json:"serialNumber"`
	Capacity            float64           `json:"capacity"`
	CriticalLoad        float64           `json:"criticalLoad"`
	InstallationDate    string            `json:"installationDate"`
	WarrantyExpiry      string            `json:"warrantyExpiry"`
	MaintenanceSchedule string            `json:"maintenanceSchedule"`
	NextMaintenance     string            `json:"nextMaintenance"`
	Events              []domain.UPSEvent `json:"events,omitempty"`
	Alerts              []domain.UPSAlert `json:"alerts,omitempty"`
	PerformanceHistory  []json.RawMessage `json:"performanceHistory,omitempty"`
}

// JSON renders an indented array of device objects with the optional nested
// collections requested in opts.
func JSON(records []domain.UPS, opts Options) ([]byte, error) {
	out := make([]record, 0, len(records))
	for _, u := range records {
		r := record{
			UPSID:               u.UPSID,
			Name:                u.Name,
			Location:            u.Location,
			Status:              u.Status,
			LastChecked:         u.LastChecked,
			BatteryLevel:        u.BatteryLevel,
			Temperature:         u.Temperature,
			PowerInput:          u.PowerInput,
			PowerOutput:         u.PowerOutput,
			Efficiency:          u.Efficiency,
			Uptime:              u.Uptime,
			Manufacturer:        u.Manufacturer,
			Model:               u.Model,
			SerialNumber:        u.SerialNumber,
			Capacity:            u.Capacity,
			CriticalLoad:        u.CriticalLoad,
			InstallationDate:    u.InstallationDate,
			WarrantyExpiry:      u.WarrantyExpiry,
			MaintenanceSchedule: u.MaintenanceSchedule,
			NextMaintenance:     u.NextMaintenance,
		}
		if opts.IncludeEvents {
			r.Events = u.Events
		}
		if opts.IncludeAlerts {
			r.Alerts = u.Alerts
		}
		if opts.IncludePerformanceHistory {
			r.PerformanceHistory = u.PerformanceHistory
		}
		out = append(out, r)
	}
	return json.MarshalIndent(out, "", "  ")
}
