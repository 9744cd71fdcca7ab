package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/transactions_backend/config"
	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"bitbucket.org/mmdatafocus/transactions_backend/utils"
	"bitbucket.org/mmdatafocus/transactions_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func idParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive integer"})
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, def int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

func listTransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := intQuery(c, "limit", defaultPageSize)
		if limit > maxPageSize {
			limit = maxPageSize
		}
		query := models.TransactionListQuery{
			Description: c.Query("description__icontains"),
			Category:    c.Query("category"),
			Ordering:    c.Query("ordering"),
			Limit:       limit,
			Offset:      intQuery(c, "offset", 0),
		}
		if v := c.Query("amount__gt"); v != "" {
			gt, err := decimal.NewFromString(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "amount__gt must be a number"})
				return
			}
			query.AmountGt = &gt
		}

		txns, total, err := models.ListTransactions(c.Request.Context(), config.GetDB(), query)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"transactions": txns,
			"total":        total,
			"limit":        limit,
			"offset":       query.Offset,
		})
	}
}

func getTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		txn, err := models.GetTransactionById(c.Request.Context(), config.GetDB(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, txn)
	}
}

func createTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw workflow.RawRecord
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		txn, flags, err := workflow.CreateTransactionWithFlags(c.Request.Context(), config.GetDB(), ruleEngine, raw)
		if errors.Is(err, workflow.ErrEmptyRecord) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		txn.Flags = flags
		c.JSON(http.StatusCreated, txn)
	}
}

// replaceTransactionHandler implements full replacement: fields missing from
// the body are blanked, not carried forward.
func replaceTransactionHandler() gin.HandlerFunc {
	return updateTransactionHandler(true)
}

// patchTransactionHandler implements partial update: only the provided fields
// change.
func patchTransactionHandler() gin.HandlerFunc {
	return updateTransactionHandler(false)
}

func updateTransactionHandler(replace bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		db := config.GetDB()
		txn, err := models.GetTransactionById(c.Request.Context(), db, id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var body workflow.RawRecord
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		raw := body
		if replace {
			raw = workflow.RawRecord{"description": "", "category": "", "amount": "", "datetime": ""}
			for key, value := range body {
				raw[key] = value
			}
		}

		updated, flags, err := workflow.UpdateTransactionWithFlags(c.Request.Context(), db, ruleEngine, txn, raw)
		if errors.Is(err, workflow.ErrEmptyRecord) || errors.Is(err, workflow.ErrInvalidCustomFlag) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		updated.Flags = flags
		c.JSON(http.StatusOK, updated)
	}
}

func deleteTransactionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		db := config.GetDB()
		txn, err := models.GetTransactionById(c.Request.Context(), db, id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := txn.Delete(c.Request.Context(), db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func resolveFlagHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		flagId, ok := idParam(c, "flagId")
		if !ok {
			return
		}

		db := config.GetDB()
		var flag models.TransactionFlag
		err := db.WithContext(c.Request.Context()).
			Where("id = ? AND transaction_id = ?", flagId, id).
			First(&flag).Error
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "flag not found"})
			return
		}

		if !flag.IsResolvable {
			c.JSON(http.StatusBadRequest, gin.H{"message": "This flag cannot be manually resolved"})
			return
		}
		if !flag.IsResolved {
			if err := db.WithContext(c.Request.Context()).
				Model(&flag).
				Update("is_resolved", true).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, flag)
	}
}
