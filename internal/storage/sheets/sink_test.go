package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"soma-bot/internal/config"
	"soma-bot/internal/conversation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

type appendCall struct {
	path   string
	query  map[string]string
	values [][]any
}

func newTestSink(t *testing.T, status int) (*Sink, *[]appendCall) {
	t.Helper()
	var calls []appendCall

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Values [][]any `json:"values"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		calls = append(calls, appendCall{
			path: r.URL.Path,
			query: map[string]string{
				"valueInputOption": r.URL.Query().Get("valueInputOption"),
				"insertDataOption": r.URL.Query().Get("insertDataOption"),
			},
			values: body.Values,
		})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"The caller does not have permission"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-123","updates":{"updatedRange":"Orders!A2:K2","updatedRows":1}}`))
	}))
	t.Cleanup(srv.Close)

	sink, err := NewSinkWithOptions(context.Background(), "sheet-123", "Orders", zap.NewNop(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return sink, &calls
}

func testRecord() conversation.OrderRecord {
	return conversation.OrderRecord{
		OrderID:         "ord12345",
		Timestamp:       time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		RequesterHandle: "jane_d",
		CustomerName:    "Jane Doe",
		Phone:           "+65 9123 4567",
		DeliveryMethod:  conversation.DeliverySelfCollect,
		ProductName:     "Cedar Veil",
		UnitPrice:       decimal.NewFromInt(79),
		Quantity:        2,
		Status:          conversation.StatusNew,
	}
}

func TestSink_AppendsUserEnteredRow(t *testing.T) {
	sink, calls := newTestSink(t, http.StatusOK)

	require.NoError(t, sink.Append(context.Background(), testRecord()))

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.True(t, strings.HasPrefix(call.path, "/v4/spreadsheets/sheet-123/values/"), call.path)
	assert.True(t, strings.HasSuffix(call.path, ":append"), call.path)
	assert.Contains(t, call.path, "Orders")
	assert.Equal(t, "USER_ENTERED", call.query["valueInputOption"])
	assert.Equal(t, "INSERT_ROWS", call.query["insertDataOption"])

	require.Len(t, call.values, 1)
	assert.Equal(t, []any{
		"'ord12345", "2025-03-14T09:26:53Z", "'jane_d", "'Jane Doe", "'+65 9123 4567",
		"SELF_COLLECT", "", "'Cedar Veil", "79", float64(2), "NEW",
	}, call.values[0])
}

func TestSink_QuotesFreeText(t *testing.T) {
	sink, calls := newTestSink(t, http.StatusOK)

	rec := testRecord()
	rec.OrderID = "1234e567"
	rec.CustomerName = "=HYPERLINK(\"http://evil\")"
	rec.DeliveryMethod = conversation.DeliveryDeliver
	rec.DeliveryAddress = "+1 Main St"
	require.NoError(t, sink.Append(context.Background(), rec))

	require.Len(t, *calls, 1)
	row := (*calls)[0].values[0]
	require.Len(t, row, len(conversation.Columns))
	assert.Equal(t, "'1234e567", row[0])
	assert.Equal(t, "'=HYPERLINK(\"http://evil\")", row[3])
	assert.Equal(t, "'+1 Main St", row[6])
	assert.Equal(t, "79", row[8])
}

func TestSink_AppendError(t *testing.T) {
	sink, _ := newTestSink(t, http.StatusForbidden)

	err := sink.Append(context.Background(), testRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sheets.Append: order ord12345")
	assert.Contains(t, err.Error(), "permission")
}

func TestNewSink_RequiresCredentials(t *testing.T) {
	_, err := NewSink(context.Background(), config.SheetsConfig{SheetID: "x", Worksheet: "Orders"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrNoCredentials)
}
