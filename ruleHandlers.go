package main

import (
	"errors"
	"net/http"

	"bitbucket.org/mmdatafocus/transactions_backend/config"
	"bitbucket.org/mmdatafocus/transactions_backend/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func listRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		rules, err := models.GetActiveRules(c.Request.Context(), config.GetDB())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

func getRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		var rule models.TransactionRule
		err := config.GetDB().WithContext(c.Request.Context()).First(&rule, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rule)
	}
}

func createRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var rule models.TransactionRule
		if err := c.ShouldBindJSON(&rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := rule.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := config.GetDB().WithContext(c.Request.Context()).Create(&rule).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ruleEngine.Invalidate()
		c.JSON(http.StatusCreated, rule)
	}
}

func updateRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		db := config.GetDB()
		var rule models.TransactionRule
		err := db.WithContext(c.Request.Context()).First(&rule, id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var body models.TransactionRule
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		body.ID = rule.ID
		body.CreatedAt = rule.CreatedAt
		if err := body.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := db.WithContext(c.Request.Context()).Save(&body).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		ruleEngine.Invalidate()
		c.JSON(http.StatusOK, body)
	}
}

func deleteRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c, "id")
		if !ok {
			return
		}
		db := config.GetDB()
		result := db.WithContext(c.Request.Context()).Delete(&models.TransactionRule{}, id)
		if result.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": result.Error.Error()})
			return
		}
		if result.RowsAffected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
			return
		}
		ruleEngine.Invalidate()
		c.Status(http.StatusNoContent)
	}
}
