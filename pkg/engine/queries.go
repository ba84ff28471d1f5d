package engine

import (
	"fmt"
	"strings"
	"time"

	"bibliokeeper/pkg/models"
)

// LoanWithBook pairs an active loan with its resolved catalog title for
// per-member listings.
type LoanWithBook struct {
	Loan models.Loan `json:"loan"`
	Book models.Book `json:"book"`
}

// Stats are the dashboard aggregates.
type Stats struct {
	Books           int64 `json:"books"`
	TotalCopies     int64 `json:"totalCopies"`
	AvailableCopies int64 `json:"availableCopies"`
	Members         int64 `json:"members"`
	ActiveLoans     int64 `json:"activeLoans"`
	OverdueLoans    int64 `json:"overdueLoans"`
}

// Notice is an overdue alert ready for delivery.
type Notice struct {
	LoanUid string    `json:"loanUid"`
	Message string    `json:"message"`
	DueDate time.Time `json:"dueDate"`
}

// OverdueLoans lists active loans whose due date is before asOf. A zero
// asOf means today.
func (e *Engine) OverdueLoans(asOf time.Time) ([]models.Loan, error) {
	if asOf.IsZero() {
		asOf = e.today()
	} else {
		asOf = dateOnly(asOf)
	}
	var loans []models.Loan
	err := e.db.Where("status = ? AND due_date < ?", models.LoanActive, asOf).
		Order("due_date ASC, id ASC").
		Find(&loans).Error
	if err != nil {
		return nil, err
	}
	return loans, nil
}

// ActiveLoansForMember lists a member's open loans together with their
// books. Loans whose book has vanished are dropped; the delete guard makes
// that impossible in normal operation, but an imported document could
// carry dangling references.
func (e *Engine) ActiveLoansForMember(memberRef string) ([]LoanWithBook, error) {
	member, err := resolveMember(e.db, memberRef)
	if err != nil {
		return nil, err
	}

	var loans []models.Loan
	err = e.db.Where("member_uid = ? AND status = ?", member.MemberUid, models.LoanActive).
		Order("loan_date ASC, id ASC").
		Find(&loans).Error
	if err != nil {
		return nil, err
	}

	result := make([]LoanWithBook, 0, len(loans))
	for _, loan := range loans {
		var book models.Book
		if err := e.db.Where("book_uid = ?", loan.BookUid).First(&book).Error; err != nil {
			continue
		}
		result = append(result, LoanWithBook{Loan: loan, Book: book})
	}
	return result, nil
}

// Stats computes the collection aggregates in one pass per table.
func (e *Engine) Stats() (Stats, error) {
	var stats Stats

	if err := e.db.Model(&models.Book{}).Count(&stats.Books).Error; err != nil {
		return Stats{}, err
	}
	type copySums struct {
		Total     int64
		Available int64
	}
	var sums copySums
	err := e.db.Model(&models.Book{}).
		Select("COALESCE(SUM(total_copies),0) AS total, COALESCE(SUM(available_copies),0) AS available").
		Scan(&sums).Error
	if err != nil {
		return Stats{}, err
	}
	stats.TotalCopies = sums.Total
	stats.AvailableCopies = sums.Available

	if err := e.db.Model(&models.Member{}).Count(&stats.Members).Error; err != nil {
		return Stats{}, err
	}
	if err := e.db.Model(&models.Loan{}).
		Where("status = ?", models.LoanActive).
		Count(&stats.ActiveLoans).Error; err != nil {
		return Stats{}, err
	}
	if err := e.db.Model(&models.Loan{}).
		Where("status = ? AND due_date < ?", models.LoanActive, e.today()).
		Count(&stats.OverdueLoans).Error; err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// SearchBooks filters the catalog by a case-insensitive substring across
// uid, title, author, ISBN and category. An empty query returns everything.
func (e *Engine) SearchBooks(query string) ([]models.Book, error) {
	var books []models.Book
	q := e.db.Order("id ASC")
	if needle := strings.TrimSpace(query); needle != "" {
		pattern := "%" + strings.ToLower(needle) + "%"
		q = q.Where(
			"lower(book_uid) LIKE ? OR lower(title) LIKE ? OR lower(author) LIKE ? OR lower(isbn) LIKE ? OR lower(category) LIKE ?",
			pattern, pattern, pattern, pattern, pattern)
	}
	if err := q.Find(&books).Error; err != nil {
		return nil, err
	}
	return books, nil
}

// SearchMembers filters members by a case-insensitive substring across
// uid, name and email. An empty query returns everything.
func (e *Engine) SearchMembers(query string) ([]models.Member, error) {
	var members []models.Member
	q := e.db.Order("id ASC")
	if needle := strings.TrimSpace(query); needle != "" {
		pattern := "%" + strings.ToLower(needle) + "%"
		q = q.Where(
			"lower(member_uid) LIKE ? OR lower(name) LIKE ? OR lower(email) LIKE ?",
			pattern, pattern, pattern)
	}
	if err := q.Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// OverdueNotices builds one alert per overdue loan with the title and
// member name resolved for display.
func (e *Engine) OverdueNotices(asOf time.Time) ([]Notice, error) {
	loans, err := e.OverdueLoans(asOf)
	if err != nil {
		return nil, err
	}

	notices := make([]Notice, 0, len(loans))
	for _, loan := range loans {
		title := "Unknown Book"
		var book models.Book
		if err := e.db.Where("book_uid = ?", loan.BookUid).First(&book).Error; err == nil {
			title = book.Title
		}
		name := "Unknown Member"
		var member models.Member
		if err := e.db.Where("member_uid = ?", loan.MemberUid).First(&member).Error; err == nil {
			name = member.Name
		}
		notices = append(notices, Notice{
			LoanUid: loan.LoanUid,
			Message: fmt.Sprintf("%q loaned to %s is overdue", title, name),
			DueDate: loan.DueDate,
		})
	}
	return notices, nil
}
