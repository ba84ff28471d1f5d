package engine

import (
	"strings"

	"bibliokeeper/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// State is the full circulation state as captured by Snapshot and consumed
// by Restore.
type State struct {
	Books    []models.Book   `json:"books"`
	Members  []models.Member `json:"members"`
	Loans    []models.Loan   `json:"loans"`
	Settings models.Settings `json:"settings"`
}

// RestoreReport counts what a bulk import actually did.
type RestoreReport struct {
	BooksAdded     int `json:"booksAdded"`
	BooksSkipped   int `json:"booksSkipped"`
	MembersAdded   int `json:"membersAdded"`
	MembersSkipped int `json:"membersSkipped"`
	LoansAdded     int `json:"loansAdded"`
	LoansSkipped   int `json:"loansSkipped"`
}

// BulkReport counts rows taken from a spreadsheet-style import.
type BulkReport struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Snapshot captures every collection plus the settings row.
func (e *Engine) Snapshot() (State, error) {
	var state State
	if err := e.db.Order("id ASC").Find(&state.Books).Error; err != nil {
		return State{}, err
	}
	if err := e.db.Order("id ASC").Find(&state.Members).Error; err != nil {
		return State{}, err
	}
	if err := e.db.Order("id ASC").Find(&state.Loans).Error; err != nil {
		return State{}, err
	}
	settings, err := e.Settings()
	if err != nil {
		return State{}, err
	}
	state.Settings = settings
	return state, nil
}

// Restore bulk-imports a previously exported state. Unlike single-record
// registration, which rejects collisions, the bulk path skips them: a book
// whose uid or ISBN is already present, a member whose uid or email is
// already present, and a loan whose uid exists or whose references do not
// resolve are all counted as skipped. Availability is recomputed from the
// imported active loans afterwards, so the document cannot break the
// available<=total invariant.
func (e *Engine) Restore(state State) (RestoreReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report RestoreReport
	err := e.db.Transaction(func(tx *gorm.DB) error {
		for _, book := range state.Books {
			added, err := restoreBook(tx, book)
			if err != nil {
				return err
			}
			if added {
				report.BooksAdded++
			} else {
				report.BooksSkipped++
			}
		}
		for _, member := range state.Members {
			added, err := restoreMember(tx, member)
			if err != nil {
				return err
			}
			if added {
				report.MembersAdded++
			} else {
				report.MembersSkipped++
			}
		}
		for _, loan := range state.Loans {
			added, err := restoreLoan(tx, loan)
			if err != nil {
				return err
			}
			if added {
				report.LoansAdded++
			} else {
				report.LoansSkipped++
			}
		}
		if err := recomputeAvailability(tx); err != nil {
			return err
		}

		if state.Settings.MaxLoansPerMember >= 1 && state.Settings.LoanPeriodDays >= 1 {
			settings := state.Settings
			settings.ID = 1
			if err := tx.Save(&settings).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RestoreReport{}, err
	}
	return report, nil
}

func restoreBook(tx *gorm.DB, book models.Book) (bool, error) {
	book.ID = 0
	book.Title = strings.TrimSpace(book.Title)
	book.Author = strings.TrimSpace(book.Author)
	if book.Title == "" || book.Author == "" {
		return false, nil
	}
	if book.BookUid == "" {
		book.BookUid = uuid.New().String()
	}
	if book.Category == "" {
		book.Category = "General"
	}
	if book.TotalCopies < 1 {
		return false, nil
	}

	var count int64
	cond := tx.Model(&models.Book{}).Where("book_uid = ?", book.BookUid)
	if book.ISBN != "" {
		cond = tx.Model(&models.Book{}).Where("book_uid = ? OR isbn = ?", book.BookUid, book.ISBN)
	}
	if err := cond.Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := tx.Create(&book).Error; err != nil {
		return false, err
	}
	return true, nil
}

func restoreMember(tx *gorm.DB, member models.Member) (bool, error) {
	member.ID = 0
	member.Name = strings.TrimSpace(member.Name)
	member.Email = strings.TrimSpace(member.Email)
	if member.Name == "" || member.Email == "" {
		return false, nil
	}
	if member.MemberUid == "" {
		member.MemberUid = uuid.New().String()
	}
	if !models.ValidMembershipType(member.MembershipType) {
		member.MembershipType = models.MembershipStandard
	}

	var count int64
	err := tx.Model(&models.Member{}).
		Where("member_uid = ? OR lower(email) = ?", member.MemberUid, strings.ToLower(member.Email)).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := tx.Create(&member).Error; err != nil {
		return false, err
	}
	return true, nil
}

func restoreLoan(tx *gorm.DB, loan models.Loan) (bool, error) {
	loan.ID = 0
	if loan.LoanUid == "" {
		loan.LoanUid = uuid.New().String()
	}
	if loan.Status != models.LoanActive && loan.Status != models.LoanReturned {
		return false, nil
	}

	var count int64
	if err := tx.Model(&models.Loan{}).Where("loan_uid = ?", loan.LoanUid).Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	if err := tx.Model(&models.Book{}).Where("book_uid = ?", loan.BookUid).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}
	if err := tx.Model(&models.Member{}).Where("member_uid = ?", loan.MemberUid).Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, nil
	}

	loan.LoanDate = dateOnly(loan.LoanDate)
	loan.DueDate = dateOnly(loan.DueDate)
	if loan.ReturnDate != nil {
		returned := dateOnly(*loan.ReturnDate)
		loan.ReturnDate = &returned
	}
	if err := tx.Create(&loan).Error; err != nil {
		return false, err
	}
	return true, nil
}

// recomputeAvailability re-derives available copies from the active loan
// count for every book, clamped into [0, total].
func recomputeAvailability(tx *gorm.DB) error {
	var books []models.Book
	if err := tx.Find(&books).Error; err != nil {
		return err
	}
	for i := range books {
		var active int64
		err := tx.Model(&models.Loan{}).
			Where("book_uid = ? AND status = ?", books[i].BookUid, models.LoanActive).
			Count(&active).Error
		if err != nil {
			return err
		}
		available := books[i].TotalCopies - int(active)
		if available < 0 {
			available = 0
		}
		if available != books[i].AvailableCopies {
			books[i].AvailableCopies = available
			if err := tx.Save(&books[i]).Error; err != nil {
				return err
			}
		}
	}
	return nil
}

// BulkAddBooks takes rows from a spreadsheet import. Rows without a title
// or author and rows colliding on ISBN are skipped, never rejected.
func (e *Engine) BulkAddBooks(rows []BookInput) (BulkReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report BulkReport
	err := e.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			quantity := row.Quantity
			if quantity == 0 {
				quantity = 1
			}
			book := models.Book{
				BookUid:         uuid.New().String(),
				ISBN:            strings.TrimSpace(row.ISBN),
				Title:           strings.TrimSpace(row.Title),
				Author:          strings.TrimSpace(row.Author),
				Category:        strings.TrimSpace(row.Category),
				TotalCopies:     quantity,
				AvailableCopies: quantity,
			}
			if book.Title == "" || book.Author == "" || quantity < 1 || quantity > 100 {
				report.Skipped++
				continue
			}
			if book.ISBN != "" {
				var count int64
				if err := tx.Model(&models.Book{}).Where("isbn = ?", book.ISBN).Count(&count).Error; err != nil {
					return err
				}
				if count > 0 {
					report.Skipped++
					continue
				}
			}
			if book.Category == "" {
				book.Category = "General"
			}
			if err := tx.Create(&book).Error; err != nil {
				return err
			}
			report.Added++
		}
		return nil
	})
	if err != nil {
		return BulkReport{}, err
	}
	return report, nil
}

// BulkAddMembers takes rows from a spreadsheet import with the same skip
// policy as BulkAddBooks, keyed on email.
func (e *Engine) BulkAddMembers(rows []MemberInput) (BulkReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var report BulkReport
	err := e.db.Transaction(func(tx *gorm.DB) error {
		for _, row := range rows {
			name := strings.TrimSpace(row.Name)
			email := strings.TrimSpace(row.Email)
			if name == "" || email == "" || !emailRe.MatchString(email) {
				report.Skipped++
				continue
			}
			var count int64
			if err := tx.Model(&models.Member{}).Where("lower(email) = ?", strings.ToLower(email)).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				report.Skipped++
				continue
			}
			membershipType := row.MembershipType
			if !models.ValidMembershipType(membershipType) {
				membershipType = models.MembershipStandard
			}
			member := models.Member{
				MemberUid:      uuid.New().String(),
				Name:           name,
				Email:          email,
				Phone:          strings.TrimSpace(row.Phone),
				MembershipType: membershipType,
				JoinDate:       e.today(),
			}
			if err := tx.Create(&member).Error; err != nil {
				return err
			}
			report.Added++
		}
		return nil
	})
	if err != nil {
		return BulkReport{}, err
	}
	return report, nil
}
