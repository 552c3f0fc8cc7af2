package export

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ANIKETSHETTY47/ups-fleet-monitor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exportTime = time.Date(2024, 3, 7, 9, 15, 42, 123_000_000, time.UTC)

func fleet() []domain.UPS {
	return []domain.UPS{
		{
			UPSID: "UPS-001", Name: `Rack "A"`, Location: "DC-1", Status: domain.StatusHealthy,
			LastChecked: "2024-03-07T09:00:00Z", BatteryLevel: 98, Temperature: 24.5,
			PowerInput: 1200, PowerOutput: 1100, Efficiency: 91.7, Uptime: 99.9,
			MaintenanceSchedule: "monthly",
			Events:              []domain.UPSEvent{{ID: "e1", Type: domain.EventInfo, Message: "self test ok"}},
		},
	}
}

func TestCSV(t *testing.T) {
	out := string(CSV(fleet()))
	lines := strings.Split(out, "\n")
	require.Len(t, lines, 2)

	assert.Len(t, strings.Split(lines[0], ","), 20)
	assert.True(t, strings.HasPrefix(lines[0], `"UPS ID","Name","Location","Status"`))
	assert.True(t, strings.HasSuffix(lines[0], `"Maintenance Schedule","Next Maintenance"`))
	assert.Equal(t,
		`"UPS-001","Rack ""A""","DC-1","healthy","2024-03-07T09:00:00Z","98","24.5","1200","1100","91.7","99.9","","","","0","0","","","monthly",""`,
		lines[1])
}

func TestExportNamesAndFormats(t *testing.T) {
	f, err := Export(fleet(), Options{Format: FormatCSV}, exportTime)
	require.NoError(t, err)
	assert.Equal(t, "ups-export-2024-03-07T09-15-42.csv", f.Name)

	x, err := Export(fleet(), Options{Format: FormatExcel}, exportTime)
	require.NoError(t, err)
	assert.Equal(t, "ups-export-2024-03-07T09-15-42.xlsx", x.Name)
	assert.Equal(t, f.Data, x.Data)

	_, err = Export(fleet(), Options{Format: "pdf"}, exportTime)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestJSONOptionalCollections(t *testing.T) {
	plain, err := JSON(fleet(), Options{})
	require.NoError(t, err)
	assert.NotContains(t, string(plain), `"events"`)
	assert.Contains(t, string(plain), "\n  {\n    \"upsId\": \"UPS-001\"")

	withEvents, err := JSON(fleet(), Options{IncludeEvents: true})
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(withEvents, &decoded))
	require.Len(t, decoded, 1)
	assert.Len(t, decoded[0]["events"], 1)
	assert.NotContains(t, decoded[0], "alerts")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" Excel ")
	require.NoError(t, err)
	assert.Equal(t, FormatExcel, f)

	_, err = ParseFormat("xml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
