package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		account := api.Group("/account")
		{
			account.GET("/balances", h.GetBalances)
			account.POST("/create", h.CreateAccount)
		}

		sub := api.Group("/sub-account")
		{
			sub.POST("/create", h.CreateSubAccount)
			sub.POST("/delete", h.DeleteSubAccount)
		}

		transaction := api.Group("/transaction")
		{
			transaction.POST("/create", h.CreateTransaction)
			transaction.POST("/update", h.UpdateTransaction)
			transaction.POST("/delete", h.DeleteTransaction)
			transaction.GET("/detail", h.GetTransaction)
			transaction.GET("/list", h.ListTransactions)
		}

		transfer := api.Group("/transfer")
		{
			transfer.POST("/execute", h.Transfer)
			transfer.GET("/detail", h.GetTransfer)
			transfer.GET("/list", h.ListTransfers)
		}

		recurring := api.Group("/recurring")
		{
			recurring.POST("/create", h.CreateRecurring)
			recurring.GET("/list", h.ListRecurring)
			recurring.POST("/pause", h.PauseRecurring)
			recurring.POST("/resume", h.ResumeRecurring)
			recurring.GET("/logs", h.ListRecurringLogs)
			recurring.POST("/tick", h.RunRecurringTick)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
