package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"bibliokeeper/pkg/database"
	"bibliokeeper/pkg/engine"
	"bibliokeeper/pkg/export"
	"bibliokeeper/pkg/metadata"
	"bibliokeeper/pkg/models"
	"bibliokeeper/pkg/reminders"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var (
	db            *gorm.DB
	eng           *engine.Engine
	lookupClient  *metadata.Client
	reminderQueue *reminders.Queue
)

func main() {
	log.Println("Starting circulation service...")

	db = database.InitCirculationDB()

	var err error
	eng, err = engine.New(db)
	if err != nil {
		log.Fatalf("Failed to initialize circulation engine: %v", err)
	}

	lookupClient = metadata.NewClient(getEnv("METADATA_BASE_URL", ""))
	reminderQueue = reminders.NewQueue()

	if getEnv("SEED_DEMO_DATA", "false") == "true" {
		seedDemoData()
	}

	server := gin.Default()
	server.GET("/api/v1/books", getBooks)
	server.POST("/api/v1/books", createBook)
	server.POST("/api/v1/books/bulk", bulkAddBooks)
	server.GET("/api/v1/books/lookup", lookupBook)
	server.DELETE("/api/v1/books/:bookUid", deleteBook)
	server.GET("/api/v1/members", getMembers)
	server.POST("/api/v1/members", createMember)
	server.POST("/api/v1/members/bulk", bulkAddMembers)
	server.DELETE("/api/v1/members/:memberUid", deleteMember)
	server.GET("/api/v1/members/:memberUid/loans", getMemberLoans)
	server.POST("/api/v1/loans", createLoan)
	server.POST("/api/v1/loans/return", returnLoan)
	server.GET("/api/v1/loans/overdue", getOverdueLoans)
	server.GET("/api/v1/stats", getStats)
	server.GET("/api/v1/settings", getSettings)
	server.PUT("/api/v1/settings", updateSettings)
	server.GET("/api/v1/export", exportState)
	server.POST("/api/v1/import", importState)
	server.GET("/api/v1/notifications", getNotifications)
	server.GET("/api/v1/reminders", getReminders)
	server.GET("/manage/health", healthCheck)

	port := getEnv("PORT", "8080")
	log.Printf("Circulation service starting on :%s", port)
	if err := server.Run(":" + port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// statusForError maps engine failures onto HTTP codes. Everything the
// engine classifies is a client problem; the rest is a server error.
func statusForError(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrConflict),
		errors.Is(err, engine.ErrUnavailable),
		errors.Is(err, engine.ErrLoanLimit),
		errors.Is(err, engine.ErrNoActiveLoan):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}

func pageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	size, err := strconv.Atoi(c.DefaultQuery("size", "20"))
	if err != nil || size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

func bookJSON(book models.Book) gin.H {
	return gin.H{
		"bookUid":         book.BookUid,
		"isbn":            book.ISBN,
		"title":           book.Title,
		"author":          book.Author,
		"category":        book.Category,
		"totalCopies":     book.TotalCopies,
		"availableCopies": book.AvailableCopies,
	}
}

func memberJSON(member models.Member) gin.H {
	return gin.H{
		"memberUid":      member.MemberUid,
		"name":           member.Name,
		"email":          member.Email,
		"phone":          member.Phone,
		"membershipType": member.MembershipType,
		"joinDate":       member.JoinDate.Format("2006-01-02"),
	}
}

func loanJSON(loan models.Loan) gin.H {
	out := gin.H{
		"loanUid":   loan.LoanUid,
		"bookUid":   loan.BookUid,
		"memberUid": loan.MemberUid,
		"loanDate":  loan.LoanDate.Format("2006-01-02"),
		"dueDate":   loan.DueDate.Format("2006-01-02"),
		"status":    loan.Status,
	}
	if loan.ReturnDate != nil {
		out["returnDate"] = loan.ReturnDate.Format("2006-01-02")
	}
	return out
}

func getBooks(c *gin.Context) {
	books, err := eng.SearchBooks(c.Query("search"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	page, size := pageParams(c)
	total := len(books)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	items := make([]gin.H, 0, end-start)
	for _, book := range books[start:end] {
		items = append(items, bookJSON(book))
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page,
		"pageSize":      size,
		"totalElements": total,
		"items":         items,
	})
}

func createBook(c *gin.Context) {
	var input engine.BookInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	book, err := eng.RegisterBook(input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bookJSON(*book))
}

func bulkAddBooks(c *gin.Context) {
	var rows []engine.BookInput
	if err := c.ShouldBindJSON(&rows); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	report, err := eng.BulkAddBooks(rows)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func lookupBook(c *gin.Context) {
	isbn := c.Query("isbn")
	if isbn == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "isbn is required"})
		return
	}
	info, err := lookupClient.Lookup(isbn)
	if errors.Is(err, metadata.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no book data found for ISBN " + isbn})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func deleteBook(c *gin.Context) {
	if err := eng.RemoveBook(c.Param("bookUid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusNoContent, "application/json", nil)
}

func getMembers(c *gin.Context) {
	members, err := eng.SearchMembers(c.Query("search"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	page, size := pageParams(c)
	total := len(members)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	items := make([]gin.H, 0, end-start)
	for _, member := range members[start:end] {
		items = append(items, memberJSON(member))
	}
	c.JSON(http.StatusOK, gin.H{
		"page":          page,
		"pageSize":      size,
		"totalElements": total,
		"items":         items,
	})
}

func createMember(c *gin.Context) {
	var input engine.MemberInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	member, err := eng.RegisterMember(input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, memberJSON(*member))
}

func bulkAddMembers(c *gin.Context) {
	var rows []engine.MemberInput
	if err := c.ShouldBindJSON(&rows); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	report, err := eng.BulkAddMembers(rows)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func deleteMember(c *gin.Context) {
	if err := eng.RemoveMember(c.Param("memberUid")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusNoContent, "application/json", nil)
}

func getMemberLoans(c *gin.Context) {
	loans, err := eng.ActiveLoansForMember(c.Param("memberUid"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	items := make([]gin.H, len(loans))
	for i, entry := range loans {
		item := loanJSON(entry.Loan)
		item["book"] = bookJSON(entry.Book)
		items[i] = item
	}
	c.JSON(http.StatusOK, items)
}

func createLoan(c *gin.Context) {
	var request struct {
		BookRef   string `json:"bookRef" binding:"required"`
		MemberRef string `json:"memberRef" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	loan, err := eng.Checkout(request.BookRef, request.MemberRef)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, loanJSON(*loan))
}

func returnLoan(c *gin.Context) {
	var request struct {
		BookRef string `json:"bookRef" binding:"required"`
	}
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	loan, wasOverdue, err := eng.Checkin(request.BookRef)
	if err != nil {
		abortWithError(c, err)
		return
	}
	reminderQueue.Drop(loan.LoanUid)

	response := loanJSON(*loan)
	response["wasOverdue"] = wasOverdue
	c.JSON(http.StatusOK, response)
}

func getOverdueLoans(c *gin.Context) {
	var asOf time.Time
	if raw := c.Query("asOf"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format"})
			return
		}
		asOf = parsed
	}
	loans, err := eng.OverdueLoans(asOf)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	items := make([]gin.H, len(loans))
	for i, loan := range loans {
		items[i] = loanJSON(loan)
	}
	c.JSON(http.StatusOK, items)
}

func getStats(c *gin.Context) {
	stats, err := eng.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func getSettings(c *gin.Context) {
	settings, err := eng.Settings()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, settings)
}

func updateSettings(c *gin.Context) {
	var input models.Settings
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	settings, err := eng.UpdateSettings(input)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

func exportState(c *gin.Context) {
	state, err := eng.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	data, err := export.Marshal(state, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	filename := "bibliokeeper_backup_" + time.Now().UTC().Format("2006-01-02") + ".json"
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, "application/json", data)
}

func importState(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	state, err := export.Unmarshal(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := eng.Restore(state)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func getNotifications(c *gin.Context) {
	notices, err := eng.OverdueNotices(time.Time{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	settings, err := eng.Settings()
	if err == nil && settings.AutoReminders {
		for _, notice := range notices {
			reminderQueue.Enqueue(reminders.Reminder{
				LoanUid:  notice.LoanUid,
				Message:  notice.Message,
				RemindAt: time.Now().Add(24 * time.Hour),
			})
		}
	}
	c.JSON(http.StatusOK, notices)
}

func getReminders(c *gin.Context) {
	pending := reminderQueue.Snapshot()
	items := make([]gin.H, len(pending))
	for i, r := range pending {
		items[i] = gin.H{
			"loanUid":  r.LoanUid,
			"message":  r.Message,
			"remindAt": r.RemindAt.UTC().Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, items)
}

func seedDemoData() {
	book, err := eng.RegisterBook(engine.BookInput{
		Title:    "The Go Programming Language",
		Author:   "Alan A. A. Donovan",
		ISBN:     "9780134190440",
		Category: "Computing",
		Quantity: 3,
	})
	if err != nil {
		log.Printf("Demo seed: book already present or invalid: %v", err)
		return
	}
	member, err := eng.RegisterMember(engine.MemberInput{
		Name:  "Ada Lovelace",
		Email: "ada@example.org",
	})
	if err != nil {
		log.Printf("Demo seed: member already present or invalid: %v", err)
		return
	}
	if _, err := eng.Checkout(book.BookUid, member.MemberUid); err != nil {
		log.Printf("Demo seed: checkout failed: %v", err)
		return
	}
	log.Println("Demo data seeded")
}

func healthCheck(c *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"details": "Circulation service is active",
	})
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
