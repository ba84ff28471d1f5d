package engine

import (
	"testing"
	"time"

	"bibliokeeper/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err, "failed to connect test database")
	require.NoError(t, db.AutoMigrate(&models.Book{}, &models.Member{}, &models.Loan{}, &models.Settings{}))

	e, err := New(db)
	require.NoError(t, err)
	return e
}

func setClock(e *Engine, at time.Time) {
	e.now = func() time.Time { return at }
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func registerTestBook(t *testing.T, e *Engine, title, isbn string, quantity int) *models.Book {
	t.Helper()
	book, err := e.RegisterBook(BookInput{Title: title, Author: "Test Author", ISBN: isbn, Quantity: quantity})
	require.NoError(t, err)
	return book
}

func registerTestMember(t *testing.T, e *Engine, name, email string) *models.Member {
	t.Helper()
	member, err := e.RegisterMember(MemberInput{Name: name, Email: email})
	require.NoError(t, err)
	return member
}

func activeLoanCount(t *testing.T, e *Engine, bookUid string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, e.db.Model(&models.Loan{}).
		Where("book_uid = ? AND status = ?", bookUid, models.LoanActive).
		Count(&count).Error)
	return count
}

func reloadBook(t *testing.T, e *Engine, bookUid string) models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, e.db.Where("book_uid = ?", bookUid).First(&book).Error)
	return book
}

func TestRegisterBookDefaults(t *testing.T) {
	e := newTestEngine(t)

	book, err := e.RegisterBook(BookInput{Title: "  Dune  ", Author: " Frank Herbert "})
	require.NoError(t, err)

	assert.Equal(t, "Dune", book.Title)
	assert.Equal(t, "Frank Herbert", book.Author)
	assert.Equal(t, "General", book.Category)
	assert.Equal(t, 1, book.TotalCopies)
	assert.Equal(t, 1, book.AvailableCopies)
	assert.NotEmpty(t, book.BookUid)
}

func TestRegisterBookValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RegisterBook(BookInput{Title: "   ", Author: "Somebody"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.RegisterBook(BookInput{Title: "No Author"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.RegisterBook(BookInput{Title: "Too Many", Author: "A", Quantity: 101})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.RegisterBook(BookInput{Title: "Negative", Author: "A", Quantity: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterBookDuplicateISBN(t *testing.T) {
	e := newTestEngine(t)

	registerTestBook(t, e, "First", "9780000000001", 1)
	_, err := e.RegisterBook(BookInput{Title: "Second", Author: "B", ISBN: "9780000000001"})
	assert.ErrorIs(t, err, ErrConflict)

	// Books without an ISBN never collide with each other.
	_, err = e.RegisterBook(BookInput{Title: "NoISBN One", Author: "A"})
	assert.NoError(t, err)
	_, err = e.RegisterBook(BookInput{Title: "NoISBN Two", Author: "B"})
	assert.NoError(t, err)
}

func TestRegisterMemberValidation(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.RegisterMember(MemberInput{Name: "No Email"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.RegisterMember(MemberInput{Name: "Bad Email", Email: "not-an-email"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.RegisterMember(MemberInput{Name: "No TLD", Email: "user@host"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = e.RegisterMember(MemberInput{Name: "Bad Type", Email: "x@example.com", MembershipType: "Platinum"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRegisterMemberDefaultsAndJoinDate(t *testing.T) {
	e := newTestEngine(t)
	setClock(e, time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC))

	member, err := e.RegisterMember(MemberInput{Name: "Grace", Email: "grace@example.com"})
	require.NoError(t, err)

	assert.Equal(t, models.MembershipStandard, member.MembershipType)
	assert.Equal(t, date(2024, 3, 5), member.JoinDate)
}

func TestRegisterMemberDuplicateEmailCaseInsensitive(t *testing.T) {
	e := newTestEngine(t)

	registerTestMember(t, e, "First", "reader@example.com")
	_, err := e.RegisterMember(MemberInput{Name: "Second", Email: "READER@Example.COM"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCheckoutByISBN(t *testing.T) {
	e := newTestEngine(t)
	setClock(e, time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	book := registerTestBook(t, e, "X", "111", 2)
	member := registerTestMember(t, e, "Y", "y@example.com")

	loan, err := e.Checkout("111", member.MemberUid)
	require.NoError(t, err)

	assert.Equal(t, book.BookUid, loan.BookUid)
	assert.Equal(t, member.MemberUid, loan.MemberUid)
	assert.Equal(t, models.LoanActive, loan.Status)
	assert.Equal(t, date(2024, 1, 1), loan.LoanDate)
	assert.Equal(t, date(2024, 1, 15), loan.DueDate)
	assert.Nil(t, loan.ReturnDate)

	assert.Equal(t, 1, reloadBook(t, e, book.BookUid).AvailableCopies)
}

func TestCheckoutPreconditionOrder(t *testing.T) {
	e := newTestEngine(t)

	// Neither reference resolves; the book check comes first.
	_, err := e.Checkout("missing-book", "missing-member")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "book")

	book := registerTestBook(t, e, "Solo", "", 1)
	_, err = e.Checkout(book.BookUid, "missing-member")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "member")
}

func TestCheckoutUnavailable(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Single Copy", "", 1)
	first := registerTestMember(t, e, "First", "first@example.com")
	second := registerTestMember(t, e, "Second", "second@example.com")

	_, err := e.Checkout(book.BookUid, first.MemberUid)
	require.NoError(t, err)

	_, err = e.Checkout(book.BookUid, second.MemberUid)
	assert.ErrorIs(t, err, ErrUnavailable)

	// The failed checkout left nothing behind.
	assert.Equal(t, int64(1), activeLoanCount(t, e, book.BookUid))
	assert.Equal(t, 0, reloadBook(t, e, book.BookUid).AvailableCopies)
}

func TestCheckoutLoanLimit(t *testing.T) {
	e := newTestEngine(t)

	settings, err := e.Settings()
	require.NoError(t, err)
	settings.MaxLoansPerMember = 2
	_, err = e.UpdateSettings(settings)
	require.NoError(t, err)

	member := registerTestMember(t, e, "Cap", "cap@example.com")
	one := registerTestBook(t, e, "One", "", 1)
	two := registerTestBook(t, e, "Two", "", 1)
	three := registerTestBook(t, e, "Three", "", 1)

	_, err = e.Checkout(one.BookUid, member.MemberUid)
	require.NoError(t, err)
	_, err = e.Checkout(two.BookUid, member.MemberUid)
	require.NoError(t, err)

	_, err = e.Checkout(three.BookUid, member.MemberUid)
	assert.ErrorIs(t, err, ErrLoanLimit)

	_, _, err = e.Checkin(one.BookUid)
	require.NoError(t, err)

	_, err = e.Checkout(three.BookUid, member.MemberUid)
	assert.NoError(t, err)
}

func TestCheckinNoActiveLoan(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Shelf Warmer", "", 1)
	_, _, err := e.Checkin(book.BookUid)
	assert.ErrorIs(t, err, ErrNoActiveLoan)

	_, _, err = e.Checkin("no-such-book")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckinIsNotRepeatable(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Once", "", 1)
	member := registerTestMember(t, e, "Reader", "reader@example.com")

	_, err := e.Checkout(book.BookUid, member.MemberUid)
	require.NoError(t, err)

	loan, _, err := e.Checkin(book.BookUid)
	require.NoError(t, err)
	assert.Equal(t, models.LoanReturned, loan.Status)
	require.NotNil(t, loan.ReturnDate)

	// A second return must fail, not silently double-increment.
	_, _, err = e.Checkin(book.BookUid)
	assert.ErrorIs(t, err, ErrNoActiveLoan)
	assert.Equal(t, 1, reloadBook(t, e, book.BookUid).AvailableCopies)
}

func TestCheckinClosesOldestLoanFirst(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Popular", "", 2)
	alice := registerTestMember(t, e, "Alice", "alice@example.com")
	bob := registerTestMember(t, e, "Bob", "bob@example.com")

	setClock(e, date(2024, 1, 1))
	first, err := e.Checkout(book.BookUid, alice.MemberUid)
	require.NoError(t, err)

	setClock(e, date(2024, 1, 3))
	second, err := e.Checkout(book.BookUid, bob.MemberUid)
	require.NoError(t, err)

	returned, _, err := e.Checkin(book.BookUid)
	require.NoError(t, err)
	assert.Equal(t, first.LoanUid, returned.LoanUid)

	returned, _, err = e.Checkin(book.BookUid)
	require.NoError(t, err)
	assert.Equal(t, second.LoanUid, returned.LoanUid)
}

func TestCheckinOverdueFlag(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Late", "", 1)
	member := registerTestMember(t, e, "Slow Reader", "slow@example.com")

	setClock(e, date(2024, 1, 1))
	loan, err := e.Checkout(book.BookUid, member.MemberUid)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 1, 15), loan.DueDate)

	setClock(e, date(2024, 1, 20))
	returned, wasOverdue, err := e.Checkin(book.BookUid)
	require.NoError(t, err)
	assert.True(t, wasOverdue)
	require.NotNil(t, returned.ReturnDate)
	assert.Equal(t, date(2024, 1, 20), *returned.ReturnDate)

	// Returning exactly on the due date is not overdue.
	setClock(e, date(2024, 2, 1))
	_, err = e.Checkout(book.BookUid, member.MemberUid)
	require.NoError(t, err)
	setClock(e, date(2024, 2, 15))
	_, wasOverdue, err = e.Checkin(book.BookUid)
	require.NoError(t, err)
	assert.False(t, wasOverdue)
}

func TestAvailabilityInvariantAcrossSequence(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Churn", "", 3)
	members := []*models.Member{
		registerTestMember(t, e, "M1", "m1@example.com"),
		registerTestMember(t, e, "M2", "m2@example.com"),
		registerTestMember(t, e, "M3", "m3@example.com"),
	}

	checkInvariant := func() {
		current := reloadBook(t, e, book.BookUid)
		active := activeLoanCount(t, e, book.BookUid)
		assert.GreaterOrEqual(t, current.AvailableCopies, 0)
		assert.LessOrEqual(t, current.AvailableCopies, current.TotalCopies)
		assert.Equal(t, int64(current.TotalCopies-current.AvailableCopies), active)
	}

	steps := []func() error{
		func() error { _, err := e.Checkout(book.BookUid, members[0].MemberUid); return err },
		func() error { _, err := e.Checkout(book.BookUid, members[1].MemberUid); return err },
		func() error { _, _, err := e.Checkin(book.BookUid); return err },
		func() error { _, err := e.Checkout(book.BookUid, members[2].MemberUid); return err },
		func() error { _, err := e.Checkout(book.BookUid, members[0].MemberUid); return err },
		func() error { _, err := e.Checkout(book.BookUid, members[1].MemberUid); return err }, // fails, none left
		func() error { _, _, err := e.Checkin(book.BookUid); return err },
		func() error { _, _, err := e.Checkin(book.BookUid); return err },
		func() error { _, _, err := e.Checkin(book.BookUid); return err },
		func() error { _, _, err := e.Checkin(book.BookUid); return err }, // fails, nothing out
	}
	for _, step := range steps {
		_ = step()
		checkInvariant()
	}
}

func TestRemoveBookGuardedByActiveLoans(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Held", "", 1)
	member := registerTestMember(t, e, "Holder", "holder@example.com")

	_, err := e.Checkout(book.BookUid, member.MemberUid)
	require.NoError(t, err)

	err = e.RemoveBook(book.BookUid)
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = e.Checkin(book.BookUid)
	require.NoError(t, err)

	require.NoError(t, e.RemoveBook(book.BookUid))
	_, err = e.Checkout(book.BookUid, member.MemberUid)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveMemberGuardedByActiveLoans(t *testing.T) {
	e := newTestEngine(t)

	book := registerTestBook(t, e, "Borrowed", "", 1)
	member := registerTestMember(t, e, "Leaver", "leaver@example.com")

	_, err := e.Checkout(book.BookUid, member.MemberUid)
	require.NoError(t, err)

	err = e.RemoveMember(member.MemberUid)
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = e.Checkin(book.BookUid)
	require.NoError(t, err)
	assert.NoError(t, e.RemoveMember(member.MemberUid))
}

func TestUpdateSettingsValidation(t *testing.T) {
	e := newTestEngine(t)

	settings, err := e.Settings()
	require.NoError(t, err)
	assert.Equal(t, 10, settings.MaxLoansPerMember)
	assert.Equal(t, 14, settings.LoanPeriodDays)

	settings.MaxLoansPerMember = 0
	_, err = e.UpdateSettings(settings)
	assert.ErrorIs(t, err, ErrValidation)

	settings.MaxLoansPerMember = 5
	settings.LoanPeriodDays = -3
	_, err = e.UpdateSettings(settings)
	assert.ErrorIs(t, err, ErrValidation)

	settings.LoanPeriodDays = 21
	updated, err := e.UpdateSettings(settings)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.MaxLoansPerMember)
	assert.Equal(t, 21, updated.LoanPeriodDays)

	// The new period applies to fresh loans only.
	book := registerTestBook(t, e, "Fresh", "", 1)
	member := registerTestMember(t, e, "Fresh Reader", "fresh@example.com")
	setClock(e, date(2024, 6, 1))
	loan, err := e.Checkout(book.BookUid, member.MemberUid)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 6, 22), loan.DueDate)
}
