package domain

import "time"

type Product struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	StockTotal         int    `json:"stock_total"`
	AlertThreshold     int    `json:"alert_threshold"`
}

type ProductCreateRequest struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	AlertThreshold     int    `json:"alert_threshold"`
}

type ProductUpdateRequest struct {
	Name               *string `json:"name,omitempty"`
	Description        *string `json:"description,omitempty"`
	PurchasePriceCents *int64  `json:"purchase_price_cents,omitempty"`
	SalePriceCents     *int64  `json:"sale_price_cents,omitempty"`
	AlertThreshold     *int    `json:"alert_threshold,omitempty"`
}

type StockLot struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	LotNumber  string    `json:"lot_number"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
	ReceivedAt time.Time `json:"received_at"`
}

type StockLotReceiveRequest struct {
	ProductID  int64  `json:"product_id"`
	LotNumber  string `json:"lot_number"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date"`
}

type StockLotListResponse struct {
	Lots []StockLot `json:"lots"`
}

type StockWriteOffRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type StockRefreshResponse struct {
	AllSucceeded bool   `json:"all_succeeded"`
	RefreshedAt  string `json:"refreshed_at"`
}

type SaleLine struct {
	ID             int64 `json:"id"`
	SaleID         int64 `json:"sale_id"`
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
	LineTotalCents int64 `json:"line_total_cents"`
}

type Sale struct {
	ID            int64      `json:"id"`
	PharmacistID  int64      `json:"pharmacist_id"`
	ClientID      *int64     `json:"client_id,omitempty"`
	TotalCents    int64      `json:"total_cents"`
	TenderedCents int64      `json:"tendered_cents"`
	ChangeCents   int64      `json:"change_cents"`
	CreatedAt     time.Time  `json:"created_at"`
	Lines         []SaleLine `json:"lines"`
}

type SaleLineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type SaleCreateRequest struct {
	PharmacistID  int64             `json:"pharmacist_id"`
	ClientID      *int64            `json:"client_id,omitempty"`
	TenderedCents int64             `json:"tendered_cents"`
	Lines         []SaleLineRequest `json:"lines"`
}

type SaleResponse struct {
	Sale Sale `json:"sale"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

type ReceiptResponse struct {
	SaleID       int64  `json:"sale_id"`
	EscposBase64 string `json:"escpos_base64"`
	PreviewText  string `json:"preview_text"`
	FileName     string `json:"file_name"`
}

type Client struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type ClientCreateRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Pharmacist struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

type PharmacistCreateRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Username string `json:"username"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type PharmacistUserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type PharmacistUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type StockAlert struct {
	Code        string `json:"code"`
	Severity    string `json:"severity"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	LotID       int64  `json:"lot_id,omitempty"`
	LotNumber   string `json:"lot_number,omitempty"`
	Quantity    int    `json:"quantity"`
	Threshold   int    `json:"threshold,omitempty"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	Detail      string `json:"detail"`
}

type StockAlertResponse struct {
	GeneratedAt string       `json:"generated_at"`
	WindowDays  int          `json:"window_days"`
	Alerts      []StockAlert `json:"alerts"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin      = "admin"
	RolePharmacist = "pharmacist"
)

const (
	AlertLowStock     = "low_stock"
	AlertExpiringSoon = "expiring_soon"
	AlertExpiredLot   = "expired_on_shelf"
)
