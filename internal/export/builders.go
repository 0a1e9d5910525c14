package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "coldchain-cloud/internal/alerts/domain"
	telemetry "coldchain-cloud/internal/telemetry/domain"
)

// BuildTelemetryXLSX renders a telemetry history workbook.
func BuildTelemetryXLSX(entityID string, readings []telemetry.Reading) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Shipment Telemetry Export")
	_ = f.SetCellValue(summarySheet, "A3", "Shipment")
	_ = f.SetCellValue(summarySheet, "B3", entityID)
	_ = f.SetCellValue(summarySheet, "A4", "Readings")
	_ = f.SetCellValue(summarySheet, "B4", len(readings))
	_ = f.SetCellValue(summarySheet, "A5", "Generated")
	_ = f.SetCellValue(summarySheet, "B5", time.Now().UTC().Format(time.RFC3339))

	_ = f.SetCellValue(readingsSheet, "A1", "Timestamp")
	_ = f.SetCellValue(readingsSheet, "B1", "Shipment")
	_ = f.SetCellValue(readingsSheet, "C1", "Temperature (C)")
	_ = f.SetCellValue(readingsSheet, "D1", "Impact (g)")
	_ = f.SetCellValue(readingsSheet, "E1", "Latitude")
	_ = f.SetCellValue(readingsSheet, "F1", "Longitude")
	_ = f.SetCellValue(readingsSheet, "G1", "Battery (%)")
	_ = f.SetCellValue(readingsSheet, "H1", "Signal")
	for i, reading := range readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), reading.Timestamp.UTC().Format(time.RFC3339))
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("B%d", row), reading.EntityID)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("C%d", row), reading.Temperature)
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("D%d", row), reading.SecondaryMetric)
		if reading.Latitude != nil {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("E%d", row), *reading.Latitude)
		}
		if reading.Longitude != nil {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("F%d", row), *reading.Longitude)
		}
		if reading.BatteryLevel != nil {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("G%d", row), *reading.BatteryLevel)
		}
		if reading.SignalStrength != nil {
			_ = f.SetCellValue(readingsSheet, fmt.Sprintf("H%d", row), *reading.SignalStrength)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildAlertsPDF renders a minimal PDF listing active alerts.
func BuildAlertsPDF(list []alerts.Alert) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Active Shipment Alerts")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(list)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(35, 6, "Shipment", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Value", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Threshold", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Raised", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range list {
		pdf.CellFormat(35, 6, alert.EntityID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 6, alert.AlertType, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", alert.AlertValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", alert.Threshold), "1", 0, "R", false, 0, "")
		pdf.CellFormat(20, 6, alert.Severity, "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, alert.Timestamp.UTC().Format("01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
