package constants

// ProductField is a canonical pricelist column target.
type ProductField string

const (
	FieldSKU         ProductField = "sku"
	FieldBarcode     ProductField = "barcode"
	FieldDescription ProductField = "description"
	FieldBrand       ProductField = "brand"
	FieldSeriesRange ProductField = "series_range"
	FieldPrice       ProductField = "price"
	FieldPriceExVAT  ProductField = "price_ex_vat"
	FieldPriceIncVAT ProductField = "price_inc_vat"
	FieldVATAmount   ProductField = "vat_amount"
	FieldStockQty    ProductField = "stock_qty"
	FieldUOM         ProductField = "uom"
)

// ColumnAliases maps each canonical field to the header substrings that
// identify it. Matching happens against headers normalized to lowercase
// alphanumerics, so aliases are written in that form. Collected from real
// supplier pricelists; order within a list does not matter, but the order
// fields are probed in does (see the pricelist package).
var ColumnAliases = map[ProductField][]string{
	FieldSKU: {
		"sku", "stockcode", "itemcode", "productcode", "productid",
		"part", "partno", "itemno", "model", "catalog", "catalogue", "material",
	},
	FieldBarcode:     {"barcode", "ean", "upc", "gtin"},
	FieldDescription: {"description", "product", "itemdescription", "longdescription", "details", "desc", "name"},
	FieldBrand:       {"brand", "manufacturer", "manuf", "suppliername", "vendor", "make"},
	FieldSeriesRange: {
		"series", "seriesrange", "range", "productseries", "productline",
		"line", "modelrange", "modelseries", "productrange",
	},
	FieldPrice: {
		"dealer", "costprice", "nett", "netprice", "buy", "purchase", "wholesale",
		"unitcost", "baseprice", "import", "landed", "selling", "retail", "rrp",
		"listprice", "unitprice", "sellprice", "price", "cost",
	},
	FieldPriceExVAT:  {"priceex", "exvat", "exclusive", "priceexc", "excl"},
	FieldPriceIncVAT: {"priceinc", "inclvat", "inclusive", "grossprice", "incl"},
	FieldVATAmount:   {"vatamount", "taxvalue", "vat", "tax"},
	FieldStockQty: {
		"quantity", "qty", "stockqty", "stockonhand", "qtyavailable",
		"qtyavail", "available", "balance", "stock",
	},
	FieldUOM: {"uom", "unit", "unitofmeasure", "packsize"},
}
