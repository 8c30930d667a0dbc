package authority

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consignsystem/internal/config"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

// fakeAuthority 返回固定响应，并记录收到的请求和表单
type fakeAuthority struct {
	mu       sync.Mutex
	status   int
	body     []byte
	delay    time.Duration
	requests []*http.Request
	forms    []map[string]string
}

func (f *fakeAuthority) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}

	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.forms = append(f.forms, form)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	status := f.status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(status)
	_, _ = w.Write(f.body)
}

func newTestClient(t *testing.T, fake *fakeAuthority, timeout time.Duration) *Client {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewClient(&config.AuthorityConfig{
		BaseURL:  server.URL + "/ws/",
		ClientID: "CLIENT01",
		TenantID: "001",
		User:     "operator",
		Password: "secret",
		Timeout:  timeout,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient(t *testing.T) {
	t.Run("requires base url", func(t *testing.T) {
		_, err := NewClient(&config.AuthorityConfig{})
		assert.Error(t, err)
	})

	t.Run("rejects relative url", func(t *testing.T) {
		_, err := NewClient(&config.AuthorityConfig{BaseURL: "authority/ws"})
		assert.Error(t, err)
	})
}

func TestClient_QueryMargin(t *testing.T) {
	query := MarginQuery{
		RegistrationNumber: "123456",
		TaxID:              "11122233344",
		InstallmentValue:   decimal.RequireFromString("150.5"),
	}

	t.Run("parses margin and encodes request", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_ok.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.QueryMargin(context.Background(), query)
		require.NoError(t, err)

		assert.True(t, res.Margin.Equal(decimal.RequireFromString("1234.56")))
		assert.Equal(t, "000", res.Code)

		require.Len(t, fake.requests, 1)
		assert.Equal(t, http.MethodPost, fake.requests[0].Method)
		assert.Equal(t, "/ws/consultarMargem", fake.requests[0].URL.Path)
		assert.Contains(t, fake.requests[0].Header.Get("Content-Type"), "application/x-www-form-urlencoded")

		form := fake.forms[0]
		assert.Equal(t, "CLIENT01", form["cliente"])
		assert.Equal(t, "001", form["convenio"])
		assert.Equal(t, "operator", form["usuario"])
		assert.Equal(t, "secret", form["senha"])
		assert.Equal(t, "123456", form["matricula"])
		assert.Equal(t, "11122233344", form["cpf"])
		assert.Equal(t, "150.50", form["valorParcela"])
		assert.NotContains(t, form, "prazo")
	})

	t.Run("zero margin is a real value", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_zero.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.QueryMargin(context.Background(), query)
		require.NoError(t, err)
		assert.True(t, res.Margin.IsZero())
	})

	t.Run("nested margin with comma decimals", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_nested.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.QueryMargin(context.Background(), query)
		require.NoError(t, err)
		assert.True(t, res.Margin.Equal(decimal.RequireFromString("1050.75")), res.Margin.String())
	})

	t.Run("plain xml without envelope", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_plain.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.QueryMargin(context.Background(), query)
		require.NoError(t, err)
		assert.True(t, res.Margin.Equal(decimal.RequireFromString("87.10")))
	})

	t.Run("explicit failure is rejected with code and message", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_rejected.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.QueryMargin(context.Background(), query)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrRejected)
		assert.False(t, IsUnavailable(err))

		rejected, ok := AsRejected(err)
		require.True(t, ok)
		assert.Equal(t, OperationQueryMargin, rejected.Operation)
		assert.Equal(t, "229", rejected.Code)
		assert.Equal(t, "Servidor não encontrado para a matrícula informada.", rejected.Message)
	})

	t.Run("missing value tag is field not found", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_no_value.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.QueryMargin(context.Background(), query)
		assert.Nil(t, res)
		assert.ErrorIs(t, err, ErrFieldNotFound)
		assert.True(t, IsUnavailable(err))
	})

	t.Run("unparseable value is invalid numeric", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_invalid.xml")}
		client := newTestClient(t, fake, time.Second)

		_, err := client.QueryMargin(context.Background(), query)
		assert.ErrorIs(t, err, ErrInvalidNumeric)
	})

	t.Run("non 2xx is http error", func(t *testing.T) {
		fake := &fakeAuthority{status: http.StatusBadGateway, body: []byte("bad gateway")}
		client := newTestClient(t, fake, time.Second)

		_, err := client.QueryMargin(context.Background(), query)
		assert.ErrorIs(t, err, ErrHTTP)
		assert.True(t, IsUnavailable(err))
	})

	t.Run("empty body", func(t *testing.T) {
		fake := &fakeAuthority{body: []byte("  \n")}
		client := newTestClient(t, fake, time.Second)

		_, err := client.QueryMargin(context.Background(), query)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	})

	t.Run("garbage body is malformed", func(t *testing.T) {
		fake := &fakeAuthority{body: []byte("<html><body>maintenance")}
		client := newTestClient(t, fake, time.Second)

		_, err := client.QueryMargin(context.Background(), query)
		assert.True(t, IsUnavailable(err))
	})

	t.Run("timeout is http error", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "consultar_margem_ok.xml"), delay: 200 * time.Millisecond}
		client := newTestClient(t, fake, 20*time.Millisecond)

		_, err := client.QueryMargin(context.Background(), query)
		assert.ErrorIs(t, err, ErrHTTP)
		assert.True(t, IsUnavailable(err))
	})
}

func TestClient_LiquidateMargin(t *testing.T) {
	req := LiquidateRequest{
		RegistrationNumber: "123456",
		TaxID:              "11122233344",
		Identifier:         "1234563",
		ReasonCode:         "1",
		ReasonText:         "Exclusão de venda",
	}

	t.Run("success", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "liquidar_ok.xml")}
		client := newTestClient(t, fake, time.Second)

		res, err := client.LiquidateMargin(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "Consignação liquidada com sucesso.", res.Message)

		assert.Equal(t, "/ws/liquidarConsignacao", fake.requests[0].URL.Path)
		form := fake.forms[0]
		assert.Equal(t, "1234563", form["adeIdentificador"])
		assert.Equal(t, "1", form["codigoMotivoOperacao"])
		assert.Equal(t, "Exclusão de venda", form["obsMotivoOperacao"])
	})

	t.Run("rejection keeps message verbatim", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "liquidar_rejected.xml")}
		client := newTestClient(t, fake, time.Second)

		_, err := client.LiquidateMargin(context.Background(), req)
		rejected, ok := AsRejected(err)
		require.True(t, ok)
		assert.Equal(t, "312", rejected.Code)
		assert.Equal(t, "Consignação não encontrada para o identificador informado.", rejected.Message)
	})

	t.Run("latin1 response is decoded", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "liquidar_rejected_latin1.xml")}
		client := newTestClient(t, fake, time.Second)

		_, err := client.LiquidateMargin(context.Background(), req)
		rejected, ok := AsRejected(err)
		require.True(t, ok)
		assert.Equal(t, "Consignação já liquidada.", rejected.Message)
	})

	t.Run("missing success marker is not treated as success", func(t *testing.T) {
		fake := &fakeAuthority{body: []byte(`<liquidarConsignacaoResponse><codRetorno>000</codRetorno></liquidarConsignacaoResponse>`)}
		client := newTestClient(t, fake, time.Second)

		_, err := client.LiquidateMargin(context.Background(), req)
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("timeout is a failure", func(t *testing.T) {
		fake := &fakeAuthority{body: fixture(t, "liquidar_ok.xml"), delay: 200 * time.Millisecond}
		client := newTestClient(t, fake, 20*time.Millisecond)

		res, err := client.LiquidateMargin(context.Background(), req)
		assert.Nil(t, res)
		assert.True(t, IsUnavailable(err))
	})
}

func TestClient_ReserveMargin(t *testing.T) {
	fake := &fakeAuthority{body: fixture(t, "reservar_ok.xml")}
	client := newTestClient(t, fake, time.Second)

	res, err := client.ReserveMargin(context.Background(), ReserveRequest{
		RegistrationNumber: "123456",
		TaxID:              "11122233344",
		InstallmentValue:   decimal.RequireFromString("99.9"),
		Term:               12,
		Identifier:         "12345603",
	})
	require.NoError(t, err)

	assert.Equal(t, "884201", res.ContractNumber)
	assert.Equal(t, "12345603", res.Identifier)
	assert.Equal(t, "/ws/reservarMargem", fake.requests[0].URL.Path)
	assert.Equal(t, "12", fake.forms[0]["prazo"])
	assert.Equal(t, "99.90", fake.forms[0]["valorParcela"])
}

func TestParseAmount(t *testing.T) {
	value := func(s string) *string { return &s }

	tests := []struct {
		name    string
		raw     *string
		want    string
		wantErr error
	}{
		{"dot decimals", value("10.50"), "10.5", nil},
		{"comma decimals", value("10,50"), "10.5", nil},
		{"thousands separator", value("12.345,67"), "12345.67", nil},
		{"negative", value("-3.00"), "-3", nil},
		{"zero", value("0"), "0", nil},
		{"missing", nil, "", ErrFieldNotFound},
		{"blank", value("  "), "", ErrFieldNotFound},
		{"text", value("N/A"), "", ErrInvalidNumeric},
		{"comma thousands with dot decimals", value("1,234.56"), "", ErrInvalidNumeric},
		{"misplaced thousands dot", value("12.34,56"), "", ErrInvalidNumeric},
		{"two commas", value("1,234,56"), "", ErrInvalidNumeric},
		{"negative comma decimals", value("-1.234,50"), "-1234.5", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAmount("valorMargem", tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}
