package mssql

import (
	"errors"
	"fmt"
	"testing"

	mssqldb "github.com/microsoft/go-mssqldb"

	"csvload/internal/schema"
	"csvload/internal/storage"
	"csvload/internal/storage/sqlbase"
)

var products = storage.SpecFor(schema.ProductsSchema())

func TestBuildInsertNotExistsSQL(t *testing.T) {
	// The key is bound a second time (@p7) for the existence probe; the
	// repository appends it because Dialect.KeyArgTwice is set.
	got := buildInsertNotExistsSQL(products)
	want := "INSERT INTO [products] ([product_id], [order_id], [category], [name], [description], [price]) " +
		"SELECT @p1, @p2, @p3, @p4, @p5, @p6 " +
		"WHERE NOT EXISTS (SELECT 1 FROM [products] WITH (UPDLOCK, HOLDLOCK) WHERE [product_id] = @p7)"
	if got != want {
		t.Fatalf("buildInsertNotExistsSQL =\n%s\nwant\n%s", got, want)
	}
	if !Dialect.KeyArgTwice {
		t.Fatalf("Dialect.KeyArgTwice = false")
	}
}

func TestBuildCreateSQL(t *testing.T) {
	got := buildCreateSQL(storage.SpecFor(schema.OrdersSchema()))
	want := "IF OBJECT_ID(N'orders', N'U') IS NULL BEGIN CREATE TABLE [orders] (" +
		"[order_id] NVARCHAR(450) NOT NULL PRIMARY KEY, [address] NVARCHAR(MAX) NULL, " +
		"[date] NVARCHAR(MAX) NULL, [status] NVARCHAR(MAX) NULL); END;"
	if got != want {
		t.Fatalf("buildCreateSQL =\n%s\nwant\n%s", got, want)
	}
}

func TestBuildDropSQL(t *testing.T) {
	got := buildDropSQL(products)
	want := "IF OBJECT_ID(N'products', N'U') IS NOT NULL DROP TABLE [products];"
	if got != want {
		t.Fatalf("buildDropSQL = %q, want %q", got, want)
	}
}

func TestSelectUsesTop(t *testing.T) {
	got := sqlbase.BuildSelect(Dialect, products, false, storage.ListOptions{Limit: 5, Sort: storage.SortDesc})
	want := "SELECT TOP (5) [product_id], [order_id], [category], [name], [description], [price] FROM [products] ORDER BY [product_id] DESC"
	if got != want {
		t.Fatalf("BuildSelect =\n%s\nwant\n%s", got, want)
	}
}

func TestUpdateSQL(t *testing.T) {
	got := sqlbase.BuildUpdate(Dialect, storage.SpecFor(schema.OrdersSchema()))
	want := "UPDATE [orders] SET [address] = @p1, [date] = @p2, [status] = @p3 WHERE [order_id] = @p4"
	if got != want {
		t.Fatalf("BuildUpdate =\n%s\nwant\n%s", got, want)
	}
}

func TestIsDuplicate(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pk_violation", mssqldb.Error{Number: 2627}, true},
		{"unique_index", fmt.Errorf("wrapped: %w", mssqldb.Error{Number: 2601}), true},
		{"other_server_error", mssqldb.Error{Number: 208}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range tests {
		if got := isDuplicate(tc.err); got != tc.want {
			t.Fatalf("%s: isDuplicate = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestMssqlTableIdent(t *testing.T) {
	tests := []struct{ in, want string }{
		{"orders", "[orders]"},
		{"dbo.orders", "[dbo].[orders]"},
		{"we]ird", "[we]]ird]"},
	}
	for _, tc := range tests {
		if got := mssqlTableIdent(tc.in); got != tc.want {
			t.Fatalf("mssqlTableIdent(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
