package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Package is a catalogue entry: a principal placed for Days earns
// Percentage percent.
type Package struct {
	Name       string
	Percentage decimal.Decimal
	Days       int
	Minimum    decimal.Decimal
}

// Catalogue indexes packages by case-insensitive name.
type Catalogue struct {
	packages map[string]Package
}

func NewCatalogue(pkgs []Package) (*Catalogue, error) {
	c := &Catalogue{packages: make(map[string]Package, len(pkgs))}
	for _, p := range pkgs {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			return nil, Invalid("package.name", "required")
		}
		if !p.Percentage.IsPositive() {
			return nil, Invalid("package.percentage", "must be positive for "+p.Name)
		}
		if p.Days <= 0 {
			return nil, Invalid("package.days", "must be positive for "+p.Name)
		}
		if p.Minimum.IsNegative() {
			return nil, Invalid("package.minimum", "must not be negative for "+p.Name)
		}
		if _, dup := c.packages[key]; dup {
			return nil, Invalid("package.name", "duplicate "+p.Name)
		}
		c.packages[key] = p
	}
	return c, nil
}

func (c *Catalogue) Lookup(name string) (Package, bool) {
	p, ok := c.packages[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// PackageConnection links a member to a purchased package instance.
type PackageConnection struct {
	ID             uuid.UUID
	MemberID       uuid.UUID
	PackageName    string
	Principal      decimal.Decimal
	Profit         decimal.Decimal
	PurchasedAt    time.Time
	CompletionDate time.Time
	ReadyToClaim   bool
	ClaimedAt      *time.Time
}

func (c PackageConnection) Claimed() bool {
	return c.ClaimedAt != nil
}

func (c PackageConnection) Payout() decimal.Decimal {
	return c.Principal.Add(c.Profit)
}

// Completion is the elapsed share of the package term in percent, 0..100.
func (c PackageConnection) Completion(now time.Time) float64 {
	term := c.CompletionDate.Sub(c.PurchasedAt)
	if term <= 0 || !now.Before(c.CompletionDate) {
		return 100
	}
	elapsed := now.Sub(c.PurchasedAt)
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(term) * 100
}

// Matured reports whether the term has run out at now.
func (c PackageConnection) Matured(now time.Time) bool {
	return !now.Before(c.CompletionDate)
}

// Purchase places Principal from the member's wallet into a package.
type Purchase struct {
	MemberID    uuid.UUID
	PackageName string
	Principal   decimal.Decimal
}

// Connection builds the connection a purchase of p creates at now.
func (pu Purchase) Connection(p Package, now time.Time) (PackageConnection, error) {
	if pu.MemberID == uuid.Nil {
		return PackageConnection{}, Invalid("member_id", "required")
	}
	if err := CheckAmount("amount", pu.Principal); err != nil {
		return PackageConnection{}, err
	}
	if pu.Principal.LessThan(p.Minimum) {
		return PackageConnection{}, Invalid("amount", "below package minimum "+p.Minimum.StringFixed(2))
	}
	profit := pu.Principal.Mul(p.Percentage).Div(hundred).Round(2)
	if pu.Principal.Add(profit).GreaterThan(MaxAmount) {
		return PackageConnection{}, Invalid("amount", "payout would exceed "+MaxAmount.String())
	}
	return PackageConnection{
		ID:             uuid.New(),
		MemberID:       pu.MemberID,
		PackageName:    p.Name,
		Principal:      pu.Principal,
		Profit:         profit,
		PurchasedAt:    now,
		CompletionDate: now.Add(time.Duration(p.Days) * 24 * time.Hour),
	}, nil
}

// Claim collects a ready connection. Principal and Profit are what the
// member was shown and must match the stored connection.
type Claim struct {
	ConnectionID uuid.UUID
	MemberID     uuid.UUID
	Principal    decimal.Decimal
	Profit       decimal.Decimal
}

func (cl Claim) Validate() error {
	if cl.ConnectionID == uuid.Nil {
		return Invalid("connection_id", "required")
	}
	if cl.MemberID == uuid.Nil {
		return Invalid("member_id", "required")
	}
	if err := CheckAmount("principal", cl.Principal); err != nil {
		return err
	}
	return CheckNonNegative("profit", cl.Profit)
}

// Check verifies that c may be collected by this claim. Claimed connections
// report ErrAlreadyClaimed before any other check.
func (cl Claim) Check(c PackageConnection) error {
	if c.Claimed() {
		return ErrAlreadyClaimed
	}
	if c.MemberID != cl.MemberID {
		return ErrNotFound
	}
	if !c.ReadyToClaim {
		return ErrNotReady
	}
	if !c.Principal.Equal(cl.Principal) || !c.Profit.Equal(cl.Profit) {
		return Invalid("amount", "does not match the package")
	}
	return nil
}

// ClaimedDescription is the transaction description for a claim.
func ClaimedDescription(packageName string) string {
	return packageName + " Package Claimed"
}

// ClaimResult is everything a successful claim changed.
type ClaimResult struct {
	Connection  PackageConnection
	Earnings    Earnings
	Transaction TransactionRecord
}
