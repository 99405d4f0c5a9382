package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"stockly/m/domain"
	"stockly/m/internal/sale"
)

type ctxKey string

const ctxUserID ctxKey = "userID"

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	db     *sqlx.DB
	engine *sale.Engine
	secret string
}

// New constructs a Handler.
func New(db *sqlx.DB, engine *sale.Engine, secret string) *Handler {
	return &Handler{db: db, engine: engine, secret: secret}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Post("/reset-password", h.resetPassword)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/products", func(r chi.Router) {
			r.Post("/", h.upsertProduct)
			r.Get("/", h.listProducts)
			r.Get("/{id}", h.getProduct)
			r.Delete("/{id}", h.deleteProduct)
		})

		pr.Route("/sales", func(r chi.Router) {
			r.Post("/", h.upsertSale)
			r.Get("/", h.listSales)
			r.Delete("/{id}", h.deleteSale)
		})

		pr.Route("/dashboard", func(r chi.Router) {
			r.Get("/stats", h.dashboardStats)
			r.Get("/best-sellers", h.bestSellers)
			r.Get("/revenue", h.revenueSeries)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Authentication helpers

type authClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

func (h *Handler) generateToken(userID int64) (string, error) {
	claims := authClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(h.secret))
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		token, err := jwt.ParseWithClaims(tokenString, &authClaims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwt.SigningMethodHS256 {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(h.secret), nil
		})
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		claims, ok := token.Claims.(*authClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid token claims")
			return
		}
		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Auth Handlers

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}

	result, err := h.db.Exec(`INSERT INTO users (username, email, password) VALUES (?, ?, ?)`,
		req.Username, strings.ToLower(req.Email), hashed)
	if err != nil {
		respondError(w, http.StatusConflict, "email already exists")
		return
	}
	userID, err := result.LastInsertId()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to complete registration")
		return
	}

	token, err := h.generateToken(userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	respondJSON(w, http.StatusCreated, authResponse{
		Token: token,
		User:  domain.User{ID: userID, Username: req.Username, Email: strings.ToLower(req.Email)},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var user domain.User
	err := h.db.Get(&user, `SELECT id, username, email, password FROM users WHERE email = ?`, strings.ToLower(req.Email))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := h.generateToken(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to generate token")
		return
	}

	user.Password = ""
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "new_password is required")
		return
	}
	uid := r.Context().Value(ctxUserID).(int64)
	hashed, err := bcrypt.GenerateFromPassword([]byte(payload.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to secure password")
		return
	}
	if _, err := h.db.Exec(`UPDATE users SET password = ? WHERE id = ?`, hashed, uid); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to update password")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "password updated"})
}

// Product handlers

type productRequest struct {
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int64           `json:"stock"`
}

type productResponse struct {
	domain.Product
	Status domain.ProductStatus `json:"status"`
}

func (h *Handler) upsertProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !req.Price.IsPositive() {
		respondError(w, http.StatusBadRequest, "price must be positive")
		return
	}
	if req.Stock < 0 {
		respondError(w, http.StatusBadRequest, "stock must not be negative")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, err := uuid.Parse(req.ID); err != nil {
		respondError(w, http.StatusBadRequest, "id must be a valid UUID")
		return
	}

	_, err := h.db.Exec(`INSERT INTO products (id, name, price, stock) VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET name = excluded.name, price = excluded.price,
        stock = excluded.stock, updated_at = CURRENT_TIMESTAMP`,
		req.ID, strings.TrimSpace(req.Name), req.Price, req.Stock)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to save product")
		return
	}

	product := domain.Product{ID: req.ID, Name: strings.TrimSpace(req.Name), Price: req.Price, Stock: req.Stock}
	respondJSON(w, http.StatusOK, productResponse{Product: product, Status: product.Status()})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	var products []domain.Product
	if err := h.db.Select(&products,
		`SELECT id, name, price, stock, created_at, updated_at FROM products ORDER BY name`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list products")
		return
	}
	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = productResponse{Product: p, Status: p.Status()}
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p domain.Product
	err := h.db.Get(&p, `SELECT id, name, price, stock, created_at, updated_at FROM products WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load product")
		return
	}
	respondJSON(w, http.StatusOK, productResponse{Product: p, Status: p.Status()})
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		respondError(w, http.StatusBadRequest, "id must be a valid UUID")
		return
	}
	result, err := h.db.Exec(`DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		if strings.Contains(err.Error(), "constraint") {
			respondError(w, http.StatusConflict, "product is referenced by existing sales")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to delete product")
		return
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		respondError(w, http.StatusNotFound, "product not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Sales handlers

func (h *Handler) upsertSale(w http.ResponseWriter, r *http.Request) {
	var input sale.ReconcileInput
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	receipt, err := h.engine.Reconcile(r.Context(), input)
	if err != nil {
		respondSaleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, receipt)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondSaleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func respondSaleError(w http.ResponseWriter, err error) {
	var verr *sale.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid input",
			"fields": verr.Fields,
		})
	case errors.Is(err, sale.ErrProductNotFound):
		respondError(w, http.StatusUnprocessableEntity, "product not found")
	case errors.Is(err, sale.ErrInsufficientStock):
		respondError(w, http.StatusUnprocessableEntity, "insufficient stock")
	case errors.Is(err, sale.ErrSaleNotFound):
		respondError(w, http.StatusNotFound, "sale not found")
	default:
		respondError(w, http.StatusInternalServerError, "unable to process sale")
	}
}

type saleItemDetail struct {
	ID          string          `db:"id" json:"id"`
	SaleID      string          `db:"sale_id" json:"sale_id"`
	ProductID   string          `db:"product_id" json:"product_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Quantity    int64           `db:"quantity" json:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price" json:"unit_price"`
}

type saleListEntry struct {
	ID            string           `json:"id"`
	Date          time.Time        `json:"date"`
	ProductNames  string           `json:"product_names"`
	TotalProducts int64            `json:"total_products"`
	TotalAmount   decimal.Decimal  `json:"total_amount"`
	Items         []saleItemDetail `json:"items"`
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	var sales []domain.Sale
	if err := h.db.Select(&sales, `SELECT id, date FROM sales ORDER BY date DESC`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to list sales")
		return
	}
	if len(sales) == 0 {
		respondJSON(w, http.StatusOK, []saleListEntry{})
		return
	}

	ids := make([]string, len(sales))
	for i, s := range sales {
		ids[i] = s.ID
	}

	itemsQuery, itemsArgs, err := sqlx.In(`SELECT si.id, si.sale_id, si.product_id, si.quantity, si.unit_price, p.name AS product_name
                FROM sale_items si
                JOIN products p ON p.id = si.product_id
                WHERE si.sale_id IN (?)`, ids)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to prepare sale items query")
		return
	}
	itemsQuery = h.db.Rebind(itemsQuery)

	var rows []saleItemDetail
	if err := h.db.Select(&rows, itemsQuery, itemsArgs...); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load sale items")
		return
	}
	itemsBySale := make(map[string][]saleItemDetail)
	for _, row := range rows {
		itemsBySale[row.SaleID] = append(itemsBySale[row.SaleID], row)
	}

	entries := make([]saleListEntry, len(sales))
	for i, s := range sales {
		items := itemsBySale[s.ID]
		names := make([]string, len(items))
		var totalProducts int64
		totalAmount := decimal.Zero
		for j, item := range items {
			names[j] = item.ProductName
			totalProducts += item.Quantity
			totalAmount = totalAmount.Add(item.UnitPrice.Mul(decimal.NewFromInt(item.Quantity)))
		}
		entries[i] = saleListEntry{
			ID:            s.ID,
			Date:          s.Date,
			ProductNames:  strings.Join(names, " - "),
			TotalProducts: totalProducts,
			TotalAmount:   totalAmount,
			Items:         items,
		}
	}

	respondJSON(w, http.StatusOK, entries)
}

// Dashboard handlers

type dashboardStats struct {
	TotalRevenue  float64 `json:"total_revenue"`
	TodayRevenue  float64 `json:"today_revenue"`
	TotalSales    int64   `json:"total_sales"`
	TotalStock    int64   `json:"total_stock"`
	TotalProducts int64   `json:"total_products"`
}

type revenueRow struct {
	Date      time.Time       `db:"date"`
	Quantity  int64           `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

func (h *Handler) dashboardStats(w http.ResponseWriter, r *http.Request) {
	var rows []revenueRow
	if err := h.db.Select(&rows, `SELECT s.date, si.quantity, si.unit_price
                FROM sale_items si JOIN sales s ON s.id = si.sale_id`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load revenue")
		return
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	tomorrow := today.Add(24 * time.Hour)
	totalRevenue := decimal.Zero
	todayRevenue := decimal.Zero
	for _, row := range rows {
		subtotal := row.UnitPrice.Mul(decimal.NewFromInt(row.Quantity))
		totalRevenue = totalRevenue.Add(subtotal)
		date := row.Date.UTC()
		if !date.Before(today) && date.Before(tomorrow) {
			todayRevenue = todayRevenue.Add(subtotal)
		}
	}

	var stats dashboardStats
	stats.TotalRevenue = totalRevenue.InexactFloat64()
	stats.TodayRevenue = todayRevenue.InexactFloat64()
	if err := h.db.Get(&stats.TotalSales, `SELECT COUNT(*) FROM sales`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to count sales")
		return
	}
	if err := h.db.Get(&stats.TotalStock, `SELECT COALESCE(SUM(stock), 0) FROM products`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to sum stock")
		return
	}
	if err := h.db.Get(&stats.TotalProducts, `SELECT COUNT(*) FROM products`); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to count products")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

type bestSeller struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int64           `db:"stock" json:"stock"`
	TotalSold int64           `db:"total_sold" json:"total_sold"`
}

func (h *Handler) bestSellers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 4
	}
	var sellers []bestSeller
	err := h.db.Select(&sellers, `SELECT p.id, p.name, p.price, p.stock, COALESCE(SUM(si.quantity), 0) AS total_sold
                FROM products p
                LEFT JOIN sale_items si ON si.product_id = p.id
                GROUP BY p.id
                ORDER BY total_sold DESC, p.name
                LIMIT ?`, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load best sellers")
		return
	}
	respondJSON(w, http.StatusOK, sellers)
}

type revenuePoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
}

func (h *Handler) revenueSeries(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days <= 0 {
		days = 14
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	start := today.AddDate(0, 0, -(days - 1))

	var rows []revenueRow
	if err := h.db.Select(&rows, `SELECT s.date, si.quantity, si.unit_price
                FROM sale_items si JOIN sales s ON s.id = si.sale_id
                WHERE s.date >= ?`, start); err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load revenue")
		return
	}

	byDay := make(map[string]decimal.Decimal)
	for _, row := range rows {
		key := row.Date.UTC().Format("2006-01-02")
		byDay[key] = byDay[key].Add(row.UnitPrice.Mul(decimal.NewFromInt(row.Quantity)))
	}

	// Emit every day in the window, zero-revenue days included.
	series := make([]revenuePoint, days)
	for i := 0; i < days; i++ {
		key := start.AddDate(0, 0, i).Format("2006-01-02")
		series[i] = revenuePoint{Date: key, Revenue: byDay[key].InexactFloat64()}
	}
	respondJSON(w, http.StatusOK, series)
}

// Helpers

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
