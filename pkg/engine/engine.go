package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"bibliokeeper/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Engine owns the book, member and loan collections plus the circulation
// settings. Every mutation is a read-modify-write compound, so they all run
// under one engine-wide lock and inside a database transaction; a failed
// precondition never leaves a partial write behind.
type Engine struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

// New wires the engine to an already migrated database and makes sure the
// settings row exists.
func New(db *gorm.DB) (*Engine, error) {
	e := &Engine{db: db, now: time.Now}

	defaults := models.DefaultSettings()
	defaults.ID = 1
	if err := db.Where(models.Settings{ID: 1}).FirstOrCreate(&defaults).Error; err != nil {
		return nil, fmt.Errorf("init settings: %w", err)
	}
	return e, nil
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// today returns the current calendar day at midnight UTC. Loan and due
// dates are dates, not instants.
func (e *Engine) today() time.Time {
	return dateOnly(e.now().UTC())
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// resolveBook matches a single reference string against book uid or ISBN,
// the same single-pass lookup used by checkout, checkin and removal.
func resolveBook(tx *gorm.DB, ref string) (*models.Book, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: book", ErrNotFound)
	}
	var book models.Book
	err := tx.Where("book_uid = ? OR (isbn <> '' AND isbn = ?)", ref, ref).First(&book).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: book %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

func resolveMember(tx *gorm.DB, ref string) (*models.Member, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: member", ErrNotFound)
	}
	var member models.Member
	err := tx.Where("member_uid = ?", ref).First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: member %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// BookInput carries the registration fields for a new catalog title.
// Quantity zero means one copy.
type BookInput struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	ISBN     string `json:"isbn"`
	Category string `json:"category"`
	Quantity int    `json:"quantity"`
}

// RegisterBook adds a title to the catalog with all copies available.
func (e *Engine) RegisterBook(in BookInput) (*models.Book, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	title := strings.TrimSpace(in.Title)
	author := strings.TrimSpace(in.Author)
	if title == "" || author == "" {
		return nil, fmt.Errorf("%w: title and author are required", ErrValidation)
	}

	quantity := in.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 || quantity > 100 {
		return nil, fmt.Errorf("%w: quantity must be between 1 and 100", ErrValidation)
	}

	isbn := strings.TrimSpace(in.ISBN)
	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = "General"
	}

	book := models.Book{
		BookUid:         uuid.New().String(),
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		Category:        category,
		TotalCopies:     quantity,
		AvailableCopies: quantity,
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		if isbn != "" {
			var count int64
			if err := tx.Model(&models.Book{}).Where("isbn = ?", isbn).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("%w: a book with ISBN %s already exists", ErrConflict, isbn)
			}
		}
		return tx.Create(&book).Error
	})
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// MemberInput carries the registration fields for a new member.
type MemberInput struct {
	Name           string                `json:"name"`
	Email          string                `json:"email"`
	Phone          string                `json:"phone"`
	MembershipType models.MembershipType `json:"membershipType"`
}

// RegisterMember adds a member; the email must be unique ignoring case.
func (e *Engine) RegisterMember(in MemberInput) (*models.Member, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrValidation)
	}
	if !emailRe.MatchString(email) {
		return nil, fmt.Errorf("%w: invalid email address", ErrValidation)
	}

	membershipType := in.MembershipType
	if membershipType == "" {
		membershipType = models.MembershipStandard
	}
	if !models.ValidMembershipType(membershipType) {
		return nil, fmt.Errorf("%w: unknown membership type %q", ErrValidation, membershipType)
	}

	member := models.Member{
		MemberUid:      uuid.New().String(),
		Name:           name,
		Email:          email,
		Phone:          strings.TrimSpace(in.Phone),
		MembershipType: membershipType,
		JoinDate:       e.today(),
	}

	err := e.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Member{}).Where("lower(email) = ?", strings.ToLower(email)).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: a member with email %s already exists", ErrConflict, email)
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// Checkout lends one copy of a book to a member. Preconditions are checked
// in order: book resolves, member resolves, a copy is available, the member
// is under the loan cap. The first failure wins and nothing is written.
func (e *Engine) Checkout(bookRef, memberRef string) (*models.Loan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var loan models.Loan
	err := e.db.Transaction(func(tx *gorm.DB) error {
		book, err := resolveBook(tx, bookRef)
		if err != nil {
			return err
		}
		member, err := resolveMember(tx, memberRef)
		if err != nil {
			return err
		}
		if book.AvailableCopies <= 0 {
			return fmt.Errorf("%w: %s", ErrUnavailable, book.Title)
		}

		var settings models.Settings
		if err := tx.First(&settings, 1).Error; err != nil {
			return err
		}
		var activeLoans int64
		if err := tx.Model(&models.Loan{}).
			Where("member_uid = ? AND status = ?", member.MemberUid, models.LoanActive).
			Count(&activeLoans).Error; err != nil {
			return err
		}
		if activeLoans >= int64(settings.MaxLoansPerMember) {
			return fmt.Errorf("%w: member %s has %d active loans (limit %d)",
				ErrLoanLimit, member.MemberUid, activeLoans, settings.MaxLoansPerMember)
		}

		loanDate := e.today()
		loan = models.Loan{
			LoanUid:   uuid.New().String(),
			BookUid:   book.BookUid,
			MemberUid: member.MemberUid,
			LoanDate:  loanDate,
			DueDate:   loanDate.AddDate(0, 0, settings.LoanPeriodDays),
			Status:    models.LoanActive,
		}
		if err := tx.Create(&loan).Error; err != nil {
			return err
		}
		book.AvailableCopies--
		return tx.Save(book).Error
	})
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// Checkin returns one copy of a book. Copies are fungible, so when several
// loans are out for the same title the oldest loan date is closed first;
// ties fall back to insertion order. The second return value reports
// whether the closed loan was overdue at return time.
func (e *Engine) Checkin(bookRef string) (*models.Loan, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var loan models.Loan
	var wasOverdue bool
	err := e.db.Transaction(func(tx *gorm.DB) error {
		book, err := resolveBook(tx, bookRef)
		if err != nil {
			return err
		}

		err = tx.Where("book_uid = ? AND status = ?", book.BookUid, models.LoanActive).
			Order("loan_date ASC, id ASC").
			First(&loan).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s is not checked out", ErrNoActiveLoan, book.Title)
		}
		if err != nil {
			return err
		}

		today := e.today()
		wasOverdue = today.After(loan.DueDate)
		loan.Status = models.LoanReturned
		loan.ReturnDate = &today
		if err := tx.Save(&loan).Error; err != nil {
			return err
		}

		if book.AvailableCopies < book.TotalCopies {
			book.AvailableCopies++
		}
		return tx.Save(book).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &loan, wasOverdue, nil
}

// RemoveBook deletes a title unless a copy is still out.
func (e *Engine) RemoveBook(bookRef string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db.Transaction(func(tx *gorm.DB) error {
		book, err := resolveBook(tx, bookRef)
		if err != nil {
			return err
		}
		var activeLoans int64
		if err := tx.Model(&models.Loan{}).
			Where("book_uid = ? AND status = ?", book.BookUid, models.LoanActive).
			Count(&activeLoans).Error; err != nil {
			return err
		}
		if activeLoans > 0 {
			return fmt.Errorf("%w: book %s has active loans", ErrConflict, book.BookUid)
		}
		return tx.Delete(book).Error
	})
}

// RemoveMember deletes a member unless they still hold a book.
func (e *Engine) RemoveMember(memberRef string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.db.Transaction(func(tx *gorm.DB) error {
		member, err := resolveMember(tx, memberRef)
		if err != nil {
			return err
		}
		var activeLoans int64
		if err := tx.Model(&models.Loan{}).
			Where("member_uid = ? AND status = ?", member.MemberUid, models.LoanActive).
			Count(&activeLoans).Error; err != nil {
			return err
		}
		if activeLoans > 0 {
			return fmt.Errorf("%w: member %s has active loans", ErrConflict, member.MemberUid)
		}
		return tx.Delete(member).Error
	})
}

// Settings returns the current circulation policy.
func (e *Engine) Settings() (models.Settings, error) {
	var settings models.Settings
	if err := e.db.First(&settings, 1).Error; err != nil {
		return models.Settings{}, err
	}
	return settings, nil
}

// UpdateSettings replaces the circulation policy. Both loan parameters must
// stay positive; existing loans keep the due dates they were issued with.
func (e *Engine) UpdateSettings(in models.Settings) (models.Settings, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if in.MaxLoansPerMember < 1 {
		return models.Settings{}, fmt.Errorf("%w: maxLoansPerMember must be positive", ErrValidation)
	}
	if in.LoanPeriodDays < 1 {
		return models.Settings{}, fmt.Errorf("%w: loanPeriodDays must be positive", ErrValidation)
	}
	if in.LibraryName == "" {
		in.LibraryName = models.DefaultSettings().LibraryName
	}

	in.ID = 1
	if err := e.db.Save(&in).Error; err != nil {
		return models.Settings{}, err
	}
	return in, nil
}
