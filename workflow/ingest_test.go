package workflow

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestDecodeCSVRecords(t *testing.T) {
	csv := strings.Join([]string{
		"Description,Amount,Category,Datetime",
		"Coffee,4.50,Dining,2023-01-01",
		"Rent,900,,2023-01-02",
	}, "\n")

	records, err := DecodeCSVRecords(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0]["description"] != "Coffee" || records[0]["amount"] != "4.50" {
		t.Fatalf("row 0: %+v", records[0])
	}
	if records[1]["category"] != "" || records[1]["datetime"] != "2023-01-02" {
		t.Fatalf("row 1: %+v", records[1])
	}
}

func TestDecodeCSVRecordsRaggedRows(t *testing.T) {
	csv := "description,amount,category\nCoffee,4.50\n"
	records, err := DecodeCSVRecords(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
	if _, ok := records[0]["category"]; ok {
		t.Fatalf("short row must omit missing columns: %+v", records[0])
	}
}

func TestDecodeCSVRecordsMissingHeaders(t *testing.T) {
	for _, csv := range []string{
		"",
		"description,category\nCoffee,Dining\n",
		"amount\n4.50\n",
	} {
		if _, err := DecodeCSVRecords(strings.NewReader(csv)); !errors.Is(err, ErrMissingHeaders) {
			t.Fatalf("%q: expected ErrMissingHeaders, got %v", csv, err)
		}
	}
}

func TestDecodeXLSXRecords(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Description", "Amount", "Category"},
		{"Coffee", "4.50", "Dining"},
		{"Rent", "900", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	records, err := DecodeXLSXRecords(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0]["description"] != "Coffee" || records[0]["amount"] != "4.50" {
		t.Fatalf("row 0: %+v", records[0])
	}
	if records[1]["description"] != "Rent" {
		t.Fatalf("row 1: %+v", records[1])
	}
}

func TestDecodeXLSXRecordsMissingHeaders(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := []any{"description", "category"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("set row: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := DecodeXLSXRecords(bytes.NewReader(buf.Bytes())); !errors.Is(err, ErrMissingHeaders) {
		t.Fatalf("expected ErrMissingHeaders, got %v", err)
	}
}
