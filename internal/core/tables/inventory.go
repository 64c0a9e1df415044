package tables

import (
	"fmt"

	"github.com/JonMunkholm/stockimport/internal/core"
)

func init() {
	registerInventory()
}

func registerInventory() {
	core.Register(core.Definition{
		Key:         "inventory",
		Label:       "Inventaris Produk",
		Table:       "products",
		ConflictKey: "sku",
		Fields: []core.FieldSpec{
			{Name: "sku", Type: core.FieldText, Required: true, RequiredMessage: "SKU wajib diisi", Example: "SKU-001"},
			{Name: "name", Type: core.FieldText, Required: true, RequiredMessage: "Nama produk wajib diisi", Example: "Kopi Arabika 250g"},
			{Name: "category", Type: core.FieldText, Example: "Minuman"},
			{
				Name: "stock_quantity", Type: core.FieldNumeric,
				InvalidMessage: "Stok harus angka", Example: "120",
			},
			{
				Name: "price", Type: core.FieldNumeric,
				InvalidMessage: "Harga harus angka", Example: "45000",
			},
			{Name: "supplier", Type: core.FieldText, Example: "PT Sumber Makmur"},
			{
				Name: "last_restocked", Type: core.FieldDate, Optional: true,
				InvalidMessage: "Format tanggal harus YYYY-MM-DD", Example: "2024-01-15",
			},
		},
		KeyFields:       []string{"sku", "name"},
		IdentifierField: "sku",
		Reference: &core.ReferenceSpec{
			Table:         "suppliers",
			MatchColumn:   "name",
			ValueColumn:   "id",
			SourceField:   "supplier",
			PayloadColumn: "supplier_id",
		},
		BuildPayload: buildInventoryPayload,
		SuccessMessage: func(row core.ImportRow) string {
			return fmt.Sprintf("Produk %s berhasil disimpan", NormalizeSKU(row.Field("sku")))
		},
	})
}

func buildInventoryPayload(row core.ImportRow, refs core.References) (map[string]any, error) {
	stock, err := ParseWholeNumber(row.Field("stock_quantity"))
	if err != nil {
		return nil, err
	}
	price, err := ParseDecimal(row.Field("price"))
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"sku":            NormalizeSKU(row.Field("sku")),
		"name":           row.Field("name"),
		"category":       nullable(row.Field("category")),
		"stock_quantity": stock,
		"price":          price,
		"last_restocked": nullable(row.Field("last_restocked")),
		"supplier_id":    nil,
	}

	if name := row.Field("supplier"); name != "" {
		id, ok := refs.Resolve(name)
		if !ok {
			return nil, fmt.Errorf("Supplier %q tidak ditemukan", name)
		}
		payload["supplier_id"] = id
	}
	return payload, nil
}
