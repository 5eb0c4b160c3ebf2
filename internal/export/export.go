package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"fieldserve/internal/domain"
)

// Exporter writes ledger reports as Excel files for the finance team.
type Exporter struct {
	repo   domain.LedgerRepository
	path   string
	logger *zerolog.Logger
}

func NewExporter(repo domain.LedgerRepository, path string, logger *zerolog.Logger) *Exporter {
	if path == "" {
		path = "exports"
	}
	return &Exporter{repo: repo, path: path, logger: logger}
}

// ExportTransactions writes every ledger row in the date range to an xlsx
// file and returns its path.
func (e *Exporter) ExportTransactions(ctx context.Context, start, end time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	txns, err := e.repo.GetTransactionsByDateRange(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("error getting transactions: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Transactions"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Period: %s - %s",
		start.Format("2006-01-02"), end.Format("2006-01-02")))

	headers := []string{
		"ID", "Order ID", "Invoice", "Actor", "Actor ID", "Direction",
		"Paid By", "Paid For", "Amount", "Status", "Gateway Ref",
		"Job", "Booking", "Created",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	var credited, debited int64
	for i, t := range txns {
		row := i + 3
		values := []any{
			t.ID, t.OrderID, t.InvoiceNo, t.ActorType, t.ActorID, t.Direction,
			t.PaymentBy, t.PaymentFor, t.Amount, t.PaymentStatus, t.GatewayRef,
			t.JobID, t.BookingID, t.CreatedAt.Format("02.01.2006 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
		switch t.Direction {
		case "credited":
			credited += t.Amount
		case "debited":
			debited += t.Amount
		}
	}

	totalRow := len(txns) + 4
	_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", totalRow), "Total debited")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", totalRow), debited)
	_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", totalRow+1), "Total credited")
	_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", totalRow+1), credited)

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "C", 30)
	_ = f.SetColWidth(sheetName, "D", "K", 16)
	_ = f.SetColWidth(sheetName, "L", "N", 18)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("transactions_%s_to_%s.xlsx",
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("rows", len(txns)).Msg("Transactions export created")
	return filePath, nil
}

// ExportBookingStatement writes the wallet movements of a single booking.
func (e *Exporter) ExportBookingStatement(ctx context.Context, bookingID int64) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	entries, err := e.repo.GetWalletEntriesByBooking(ctx, bookingID)
	if err != nil {
		return "", fmt.Errorf("error getting wallet entries: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheetName = "Statement"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"ID", "User", "User ID", "Type", "Amount", "Status", "Order ID", "Note", "Created"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	for i, entry := range entries {
		row := i + 2
		values := []any{
			entry.ID, entry.UserType, entry.UserID, entry.WalletType, entry.Signed(),
			entry.PaymentStatus, entry.OrderID, entry.Note,
			entry.CreatedAt.Format("02.01.2006 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 8)
	_ = f.SetColWidth(sheetName, "B", "I", 18)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("booking_%d_statement_%s.xlsx", bookingID, time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Msg("Booking statement created")
	return filePath, nil
}
