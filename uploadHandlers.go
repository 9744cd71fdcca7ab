package main

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"bitbucket.org/mmdatafocus/transactions_backend/config"
	"bitbucket.org/mmdatafocus/transactions_backend/workflow"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxUploadBytes  = 50 << 20 // 50 MB
	maxSkippedNotes = 20
)

// uploadTransactionsHandler ingests a CSV or XLSX file of transactions via
// multipart form field "file". Rows that clean down to nothing are skipped,
// everything else goes through the bulk pipeline.
func uploadTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "uploadTransactions")
		defer span.End()

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
			return
		}

		ext := strings.ToLower(filepath.Ext(header.Filename))
		if ext != ".csv" && ext != ".xlsx" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "only .csv and .xlsx files are supported"})
			return
		}

		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		var records []workflow.RawRecord
		if ext == ".csv" {
			records, err = workflow.DecodeCSVRecords(f)
		} else {
			records, err = workflow.DecodeXLSXRecords(f)
		}
		if errors.Is(err, workflow.ErrMissingHeaders) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file: " + err.Error()})
			return
		}

		// Note empty rows up front so the response can say which ones were
		// dropped; the pipeline itself skips them silently.
		var skippedNotes []string
		for i, record := range records {
			if _, cleanErr := workflow.CleanAndValidate(record); cleanErr != nil {
				if len(skippedNotes) < maxSkippedNotes {
					skippedNotes = append(skippedNotes, fmt.Sprintf("row %d: %s", i+2, cleanErr.Error()))
				}
			}
		}

		txns, flagMap, err := workflow.CreateTransactionsWithFlagsBulk(ctx, config.GetDB(), ruleEngine, records)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		for i := range txns {
			txns[i].Flags = flagMap[txns[i].ID]
		}
		span.SetAttributes(
			attribute.Int("upload.rows", len(records)),
			attribute.Int("upload.created", len(txns)),
		)

		c.JSON(http.StatusCreated, gin.H{
			"created":       len(txns),
			"skipped":       len(records) - len(txns),
			"skipped_notes": skippedNotes,
			"transactions":  txns,
		})
	}
}
