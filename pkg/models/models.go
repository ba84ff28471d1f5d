package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanStatus is the lifecycle state of a loan. ACTIVE moves to RETURNED
// exactly once; there is no way back.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
)

// MembershipType is the closed set of member categories.
type MembershipType string

const (
	MembershipStandard MembershipType = "Standard"
	MembershipStudent  MembershipType = "Student"
	MembershipSenior   MembershipType = "Senior"
	MembershipStaff    MembershipType = "Staff"
)

// ValidMembershipType reports whether t is one of the known categories.
func ValidMembershipType(t MembershipType) bool {
	switch t {
	case MembershipStandard, MembershipStudent, MembershipSenior, MembershipStaff:
		return true
	}
	return false
}

// Book is a catalog title with a fungible copy count. ISBN is optional but
// must be unique across books when present; that is enforced in the engine
// because the column has to allow many empty values.
type Book struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	BookUid         string    `gorm:"type:uuid;uniqueIndex;not null" json:"bookUid"`
	ISBN            string    `gorm:"size:20;index" json:"isbn"`
	Title           string    `gorm:"not null" json:"title"`
	Author          string    `gorm:"not null" json:"author"`
	Category        string    `gorm:"size:80;default:'General'" json:"category"`
	TotalCopies     int       `gorm:"not null" json:"totalCopies"`
	AvailableCopies int       `gorm:"not null" json:"availableCopies"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

type Member struct {
	ID             uint           `gorm:"primaryKey" json:"-"`
	MemberUid      string         `gorm:"type:uuid;uniqueIndex;not null" json:"memberUid"`
	Name           string         `gorm:"size:120;not null" json:"name"`
	Email          string         `gorm:"size:120;not null" json:"email"`
	Phone          string         `gorm:"size:40" json:"phone"`
	MembershipType MembershipType `gorm:"size:20;not null" json:"membershipType"`
	JoinDate       time.Time      `gorm:"not null" json:"joinDate"`
	CreatedAt      time.Time      `json:"-"`
	UpdatedAt      time.Time      `json:"-"`
}

// Loan references its book and member by uid, never by embedded rows.
type Loan struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	LoanUid    string     `gorm:"type:uuid;uniqueIndex;not null" json:"loanUid"`
	BookUid    string     `gorm:"type:uuid;not null;index" json:"bookUid"`
	MemberUid  string     `gorm:"type:uuid;not null;index" json:"memberUid"`
	LoanDate   time.Time  `gorm:"not null" json:"loanDate"`
	DueDate    time.Time  `gorm:"not null" json:"dueDate"`
	ReturnDate *time.Time `json:"returnDate,omitempty"`
	Status     LoanStatus `gorm:"size:20;not null;index" json:"status"`
	CreatedAt  time.Time  `json:"-"`
	UpdatedAt  time.Time  `json:"-"`
}

// Settings is the single-row circulation policy. FinePerDay is stored but
// never enters a computation; the flag exists for the admin screen only.
type Settings struct {
	ID                uint            `gorm:"primaryKey" json:"-"`
	LibraryName       string          `gorm:"size:120" json:"libraryName"`
	MaxLoansPerMember int             `gorm:"not null" json:"maxLoansPerMember"`
	LoanPeriodDays    int             `gorm:"not null" json:"loanPeriodDays"`
	AllowReservations bool            `json:"allowReservations"`
	EnableFines       bool            `json:"enableFines"`
	FinePerDay        decimal.Decimal `gorm:"type:decimal(8,2)" json:"finePerDay"`
	AutoReminders     bool            `json:"autoReminders"`
	UpdatedAt         time.Time       `json:"-"`
}

// DefaultSettings mirrors the values a fresh installation starts with.
func DefaultSettings() Settings {
	return Settings{
		LibraryName:       "Bibliokeeper",
		MaxLoansPerMember: 10,
		LoanPeriodDays:    14,
		AllowReservations: true,
		EnableFines:       false,
		FinePerDay:        decimal.Zero,
		AutoReminders:     true,
	}
}
