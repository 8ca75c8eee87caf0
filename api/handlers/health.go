package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"exchangesync/interfaces"
)

// HealthCheck provides a simple health check endpoint
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status returns the sync status of every configured account
func Status(accountRepository interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := accountRepository.GetAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		statuses := make([]gin.H, 0, len(accounts))
		for _, account := range accounts {
			statuses = append(statuses, gin.H{
				"id":         account.ID,
				"email":      account.EmailAddress,
				"syncStatus": account.SyncStatus,
				"lastSynced": account.LastSynced,
				"error":      account.ErrorMessage,
			})
		}
		c.JSON(http.StatusOK, gin.H{"accounts": statuses})
	}
}
