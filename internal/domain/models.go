package domain

import "time"

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Item struct {
	ID            int64  `json:"id"`
	CustomID      string `json:"custom_id"`
	Name          string `json:"name"`
	CategoryID    int64  `json:"category_id"`
	Category      string `json:"category"`
	StockQuantity int    `json:"stock_quantity"`
	PriceCents    int64  `json:"price_cents"`
}

type ItemCreateRequest struct {
	CustomID      string `json:"custom_id"`
	Name          string `json:"name"`
	Category      string `json:"category"`
	StockQuantity int    `json:"stock_quantity"`
	PriceCents    int64  `json:"price_cents"`
}

type ItemUpdateRequest struct {
	CustomID      *string `json:"custom_id,omitempty"`
	Name          *string `json:"name,omitempty"`
	Category      *string `json:"category,omitempty"`
	StockQuantity *int    `json:"stock_quantity,omitempty"`
	PriceCents    *int64  `json:"price_cents,omitempty"`
}

type Customer struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Address string `json:"address,omitempty"`
}

// Bill owns its lines. Lines reference items and the bill by id only.
type Bill struct {
	ID           int64      `json:"id"`
	Date         time.Time  `json:"date"`
	CashierID    int64      `json:"cashier_id"`
	Customer     *Customer  `json:"customer,omitempty"`
	Items        []BillItem `json:"bill_items"`
	Refunded     bool       `json:"refunded"`
	RefundedDate *time.Time `json:"refunded_date,omitempty"`
}

type BillItem struct {
	ID         int64 `json:"id"`
	BillID     int64 `json:"bill_id"`
	ItemID     int64 `json:"item_id"`
	Quantity   int   `json:"quantity"`
	PriceCents int64 `json:"price_cents"`
	Refunded   bool  `json:"refunded"`
}

func (l BillItem) LineTotalCents() int64 {
	return l.PriceCents * int64(l.Quantity)
}

// TotalAmountCents sums the lines that have not been refunded.
func (b Bill) TotalAmountCents() int64 {
	var total int64
	for _, line := range b.Items {
		if line.Refunded {
			continue
		}
		total += line.LineTotalCents()
	}
	return total
}

func (b Bill) OriginalTotalCents() int64 {
	var total int64
	for _, line := range b.Items {
		total += line.LineTotalCents()
	}
	return total
}

func (b Bill) RefundedLineCount() int {
	count := 0
	for _, line := range b.Items {
		if line.Refunded {
			count++
		}
	}
	return count
}

// IsFullyRefunded is false for a bill without lines.
func (b Bill) IsFullyRefunded() bool {
	return len(b.Items) > 0 && b.RefundedLineCount() == len(b.Items)
}

// LineIndex returns the position of the line with the given id.
func (b Bill) LineIndex(lineID int64) (int, bool) {
	for i, line := range b.Items {
		if line.ID == lineID {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy so stores never hand out shared slices.
func (b Bill) Clone() Bill {
	out := b
	out.Items = append([]BillItem(nil), b.Items...)
	if b.Customer != nil {
		customer := *b.Customer
		out.Customer = &customer
	}
	if b.RefundedDate != nil {
		at := *b.RefundedDate
		out.RefundedDate = &at
	}
	return out
}

type BillSummary struct {
	Bill
	TotalAmountCents   int64 `json:"total_amount_cents"`
	OriginalTotalCents int64 `json:"original_total_cents"`
	RefundedLines      int   `json:"refunded_lines"`
	TotalLines         int   `json:"total_lines"`
}

func (b Bill) Summary() BillSummary {
	return BillSummary{
		Bill:               b,
		TotalAmountCents:   b.TotalAmountCents(),
		OriginalTotalCents: b.OriginalTotalCents(),
		RefundedLines:      b.RefundedLineCount(),
		TotalLines:         len(b.Items),
	}
}

type BillLine struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type CreateBillRequest struct {
	CashierID int64      `json:"cashier_id"`
	Lines     []BillLine `json:"lines"`
}

type CartLine struct {
	ID         int64  `json:"id"`
	Name       string `json:"name,omitempty"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type CartRequest struct {
	CashierID int64      `json:"cashier_id"`
	Items     []CartLine `json:"items"`
	Customer  *Customer  `json:"customer,omitempty"`
}

type RefundItemsRequest struct {
	ItemIDs []int64 `json:"item_ids"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	UserID      int64  `json:"user_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// User is the persisted account. Cashiers on bills reference users by id.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
