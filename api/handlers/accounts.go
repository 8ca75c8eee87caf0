package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"exchangesync/interfaces"
	"exchangesync/internal/enum"
	syncerrors "exchangesync/internal/errors"
	"exchangesync/internal/models"
	"exchangesync/internal/tracing"
	"exchangesync/services"
)

// ListAccounts returns all configured accounts
func ListAccounts(accountRepository interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		accounts, err := accountRepository.GetAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"accounts": accounts})
	}
}

// AddAccount registers a new Exchange account
func AddAccount(accountRepository interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "AddAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		var account models.Account
		err := c.ShouldBindJSON(&account)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if account.ServerURL == "" || account.Username == "" || account.Password == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "serverUrl, username and password are required"})
			return
		}

		err = accountRepository.Save(ctx, &account)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"status": "account added", "id": account.ID})
	}
}

// SyncAccount runs one full sync round for an account: folder hierarchy,
// notes, tasks and inbox mail.
func SyncAccount(svcs *services.Services, accountRepository interfaces.AccountRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.StartHttpServerTracerSpanWithHeader(c.Request.Context(), "SyncAccount", c.Request.Header)
		defer span.Finish()
		tracing.TagComponentRest(span)

		id := c.Param("id")
		tracing.TagAccount(span, id)

		account, err := accountRepository.GetByID(ctx, id)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if account == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
			return
		}

		conn, err := svcs.Connect(ctx, account)
		if err != nil {
			tracing.TraceErr(span, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		defer conn.Close()

		fail := func(err error) {
			tracing.TraceErr(span, err)
			_ = accountRepository.UpdateConnectionStatus(ctx, id, enum.ConnectionNotActive, err.Error())
			c.JSON(statusForError(err), gin.H{"error": err.Error()})
		}

		notes, err := conn.Notes.SyncNotes(ctx)
		if err != nil {
			fail(err)
			return
		}
		tasks, err := conn.Tasks.SyncTasks(ctx)
		if err != nil {
			fail(err)
			return
		}

		inboxID, err := conn.Folders.ResolveWellKnown(ctx, enum.FolderInbox)
		if err != nil {
			fail(err)
			return
		}
		messages, err := conn.Mail.SyncFolder(ctx, inboxID)
		if err != nil {
			fail(err)
			return
		}

		if err := accountRepository.UpdateConnectionStatus(ctx, id, enum.ConnectionActive, ""); err != nil {
			tracing.TraceErr(span, err)
		}

		c.JSON(http.StatusOK, gin.H{
			"status":          "synced",
			"protocolPath":    conn.Protocol.String(),
			"protocolVersion": conn.Client.Version(),
			"notes":           len(notes),
			"tasks":           len(tasks),
			"messages":        len(messages),
		})
	}
}

// statusForError translates the error taxonomy into an HTTP status.
func statusForError(err error) int {
	switch {
	case errors.Is(err, syncerrors.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, syncerrors.ErrFolderNotFound), errors.Is(err, syncerrors.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, syncerrors.ErrConnectionTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
