// Package export renders a cache snapshot as a report file.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/cache"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/validity"
	"github.com/xuri/excelize/v2"
)

// Sheet is the name of the worksheet ToXlsx writes.
const Sheet = "entities"

// MaxRows is the number of records written at most.
const MaxRows = 100000

// fixed columns before the measurement columns.
var header = []string{"domain", "id", "name", "reporting", "stale", "status"}

func excelPos(x, y int) string {
	pos, err := excelize.CoordinatesToCellName(x+1, y+1)
	if err != nil {
		panic(err)
	}
	return pos
}

// Column is one measurement column of the report.
type Column struct {
	Window      string
	Measurement string
}

func (c Column) String() string {
	return c.Window + "." + c.Measurement
}

// Columns returns a column for each window label in the snapshot and each essential measurement.
func Columns(snap *cache.Snapshot) []Column {
	seen := make(map[string]bool)
	var labels []string
	for _, r := range snap.Records() {
		for _, l := range r.WindowLabels() {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	sort.Strings(labels)

	cols := make([]Column, 0, len(labels)*len(validity.EssentialMeasurements))
	for _, l := range labels {
		for _, m := range validity.EssentialMeasurements {
			cols = append(cols, Column{Window: l, Measurement: m})
		}
	}
	return cols
}

// ToXlsx writes snap as an xlsx workbook with a row per record.
func ToXlsx(w io.Writer, snap *cache.Snapshot, createdAt time.Time) error {
	xlsx := excelize.NewFile()
	defer xlsx.Close()

	if err := xlsx.SetSheetName("Sheet1", Sheet); err != nil {
		return err
	}

	xlsx.SetAppProps(&excelize.AppProperties{
		Application: "telecache",
	})
	xlsx.SetDocProps(&excelize.DocProperties{
		Created:        createdAt.Format(time.RFC3339),
		Modified:       createdAt.Format(time.RFC3339),
		Creator:        "telecache",
		LastModifiedBy: "telecache",
		Description:    fmt.Sprintf("snapshot taken at %s", snap.Timestamp.In(createdAt.Location()).Format(time.RFC3339)),
	})

	cols := Columns(snap)

	for x, h := range header {
		xlsx.SetCellStr(Sheet, excelPos(x, 0), h)
	}
	for i, c := range cols {
		xlsx.SetCellStr(Sheet, excelPos(len(header)+i, 0), c.String())
	}

	staleStyle, _ := xlsx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Color: "C0C0C0"},
	})
	downStyle, _ := xlsx.NewStyle(&excelize.Style{
		Border: []excelize.Border{{Type: "bottom", Style: 5, Color: "FF2D00"}},
	})
	numfmt := "#,##0.000"
	numStyle, _ := xlsx.NewStyle(&excelize.Style{CustomNumFmt: &numfmt})

	row := 0
	for _, r := range snap.Records() {
		row++
		if row > MaxRows {
			break
		}

		switch {
		case r.Stale:
			xlsx.SetRowStyle(Sheet, row+1, row+1, staleStyle)
		case !r.Reporting:
			xlsx.SetRowStyle(Sheet, row+1, row+1, downStyle)
		}

		xlsx.SetCellStr(Sheet, excelPos(0, row), r.Domain)
		xlsx.SetCellStr(Sheet, excelPos(1, row), r.ID)
		xlsx.SetCellStr(Sheet, excelPos(2, row), r.Name)
		xlsx.SetCellBool(Sheet, excelPos(3, row), r.Reporting)
		xlsx.SetCellBool(Sheet, excelPos(4, row), r.Stale)
		xlsx.SetCellStr(Sheet, excelPos(5, row), r.Status)

		for i, c := range cols {
			setMeasurement(xlsx, excelPos(len(header)+i, row), r, c, numStyle)
		}
	}

	if err := xlsx.SetPanes(Sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}

	xlsx.SetColWidth(Sheet, "A", "A", 15)
	xlsx.SetColWidth(Sheet, "B", "C", 25)

	last := len(header) + len(cols) - 1
	if err := xlsx.AutoFilter(Sheet, "A1:"+excelPos(last, row), nil); err != nil {
		return err
	}

	return xlsx.Write(w)
}

func setMeasurement(xlsx *excelize.File, pos string, r entity.Record, c Column, numStyle int) {
	ms, ok := r.Windows[c.Window]
	if !ok {
		return
	}

	raw, ok := ms[c.Measurement]
	if !ok || raw == nil {
		return
	}

	if v, ok := ms.Number(c.Measurement); ok {
		xlsx.SetCellFloat(Sheet, pos, v, -1, 64)
		xlsx.SetCellStyle(Sheet, pos, pos, numStyle)
		return
	}

	switch v := raw.(type) {
	case string:
		xlsx.SetCellStr(Sheet, pos, v)
	case bool:
		xlsx.SetCellBool(Sheet, pos, v)
	default:
		b, err := json.Marshal(v)
		if err == nil {
			xlsx.SetCellStr(Sheet, pos, string(b))
		}
	}
}
