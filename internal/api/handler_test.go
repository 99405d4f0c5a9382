package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockly/m/internal/database"
	"stockly/m/internal/migrations"
	"stockly/m/internal/sale"
	"stockly/m/internal/store"
)

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	db := database.Connect(":memory:")
	t.Cleanup(func() { db.Close() })
	migrations.Run(db)

	engine := sale.NewEngine(store.New(db))
	router := New(db, engine, "test_secret").Router()

	rec := doRequest(t, router, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "clerk",
		"email":    "clerk@example.com",
		"password": "s3cret",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var auth struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	require.NotEmpty(t, auth.Token)

	return router, auth.Token
}

func doRequest(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createProduct(t *testing.T, router http.Handler, token, name, price string, stock int64) string {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/products", token, map[string]any{
		"name":  name,
		"price": price,
		"stock": stock,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	require.NotEmpty(t, p.ID)
	return p.ID
}

func productStock(t *testing.T, router http.Handler, token, id string) int64 {
	t.Helper()
	rec := doRequest(t, router, http.MethodGet, "/products/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p struct {
		Stock int64 `json:"stock"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p.Stock
}

func TestAuthRequired(t *testing.T) {
	router, _ := newTestServer(t)
	rec := doRequest(t, router, http.MethodGet, "/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "clerk@example.com",
		"password": "s3cret",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "clerk@example.com",
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductLifecycle(t *testing.T) {
	router, token := newTestServer(t)

	id := createProduct(t, router, token, "Notebook", "29.99", 100)

	// Wholesale update through the same endpoint.
	rec := doRequest(t, router, http.MethodPost, "/products", token, map[string]any{
		"id":    id,
		"name":  "Notebook A5",
		"price": "34.90",
		"stock": 0,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/products/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Name   string          `json:"name"`
		Price  decimal.Decimal `json:"price"`
		Stock  int64           `json:"stock"`
		Status string          `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Notebook A5", got.Name)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("34.90")))
	assert.Equal(t, int64(0), got.Stock)
	assert.Equal(t, "OUT_OF_STOCK", got.Status)

	rec = doRequest(t, router, http.MethodDelete, "/products/"+id, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/products/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductValidation(t *testing.T) {
	router, token := newTestServer(t)

	cases := []map[string]any{
		{"name": "", "price": "1.00", "stock": 1},
		{"name": "Pen", "price": "0", "stock": 1},
		{"name": "Pen", "price": "1.00", "stock": -1},
		{"id": "not-a-uuid", "name": "Pen", "price": "1.00", "stock": 1},
	}
	for i, body := range cases {
		rec := doRequest(t, router, http.MethodPost, "/products", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "case %d: %s", i, rec.Body.String())
	}
}

func TestSaleFlow(t *testing.T) {
	router, token := newTestServer(t)

	p1 := createProduct(t, router, token, "Pencil", "10.50", 10)
	p2 := createProduct(t, router, token, "Eraser", "20.00", 5)

	rec := doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"lines": []map[string]any{
			{"product_id": p1, "quantity": 2},
			{"product_id": p2, "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt sale.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	require.NotEmpty(t, receipt.SaleID)

	assert.Equal(t, int64(8), productStock(t, router, token, p1))
	assert.Equal(t, int64(4), productStock(t, router, token, p2))

	rec = doRequest(t, router, http.MethodGet, "/sales", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []struct {
		ID            string          `json:"id"`
		ProductNames  string          `json:"product_names"`
		TotalProducts int64           `json:"total_products"`
		TotalAmount   decimal.Decimal `json:"total_amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, receipt.SaleID, entries[0].ID)
	assert.Equal(t, int64(3), entries[0].TotalProducts)
	assert.True(t, entries[0].TotalAmount.Equal(decimal.RequireFromString("41.00")),
		"total = %s", entries[0].TotalAmount)
	assert.Contains(t, entries[0].ProductNames, "Pencil")
	assert.Contains(t, entries[0].ProductNames, "Eraser")

	// Editing the sale replaces it and reconciles stock.
	rec = doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"id": receipt.SaleID,
		"lines": []map[string]any{
			{"product_id": p1, "quantity": 3},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var edited sale.Receipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &edited))
	assert.NotEqual(t, receipt.SaleID, edited.SaleID)
	assert.WithinDuration(t, receipt.Date, edited.Date, time.Second, "edit must keep the sale date")

	assert.Equal(t, int64(7), productStock(t, router, token, p1))
	assert.Equal(t, int64(5), productStock(t, router, token, p2), "p2 stock restored by the edit")

	rec = doRequest(t, router, http.MethodDelete, "/sales/"+edited.SaleID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(10), productStock(t, router, token, p1))
}

func TestSaleDomainFailures(t *testing.T) {
	router, token := newTestServer(t)
	p1 := createProduct(t, router, token, "Stapler", "15.00", 5)

	rec := doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"lines": []map[string]any{{"product_id": p1, "quantity": 10}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient stock")
	assert.Equal(t, int64(5), productStock(t, router, token, p1), "failed sale must not touch stock")

	rec = doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"lines": []map[string]any{{"product_id": uuid.NewString(), "quantity": 1}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "product not found")

	rec = doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"lines": []map[string]any{},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "lines")

	rec = doRequest(t, router, http.MethodDelete, "/sales/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteProductReferencedBySale(t *testing.T) {
	router, token := newTestServer(t)
	p1 := createProduct(t, router, token, "Marker", "3.00", 10)

	rec := doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"lines": []map[string]any{{"product_id": p1, "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodDelete, "/products/"+p1, token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestDashboard(t *testing.T) {
	router, token := newTestServer(t)
	p1 := createProduct(t, router, token, "Pencil", "10.50", 10)
	p2 := createProduct(t, router, token, "Eraser", "20.00", 5)

	rec := doRequest(t, router, http.MethodPost, "/sales", token, map[string]any{
		"lines": []map[string]any{
			{"product_id": p1, "quantity": 2},
			{"product_id": p2, "quantity": 1},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodGet, "/dashboard/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		TotalRevenue  float64 `json:"total_revenue"`
		TodayRevenue  float64 `json:"today_revenue"`
		TotalSales    int64   `json:"total_sales"`
		TotalStock    int64   `json:"total_stock"`
		TotalProducts int64   `json:"total_products"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.InDelta(t, 41.0, stats.TotalRevenue, 0.001)
	assert.InDelta(t, 41.0, stats.TodayRevenue, 0.001)
	assert.Equal(t, int64(1), stats.TotalSales)
	assert.Equal(t, int64(12), stats.TotalStock)
	assert.Equal(t, int64(2), stats.TotalProducts)

	rec = doRequest(t, router, http.MethodGet, "/dashboard/best-sellers?limit=1", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sellers []struct {
		ID        string `json:"id"`
		TotalSold int64  `json:"total_sold"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sellers))
	require.Len(t, sellers, 1)
	assert.Equal(t, p1, sellers[0].ID)
	assert.Equal(t, int64(2), sellers[0].TotalSold)

	rec = doRequest(t, router, http.MethodGet, "/dashboard/revenue?days=7", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var series []struct {
		Date    string  `json:"date"`
		Revenue float64 `json:"revenue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	require.Len(t, series, 7, "series must include zero-revenue days")
	assert.InDelta(t, 41.0, series[len(series)-1].Revenue, 0.001)

	total := 0.0
	for _, point := range series {
		total += point.Revenue
	}
	assert.InDelta(t, 41.0, total, 0.001)
}
