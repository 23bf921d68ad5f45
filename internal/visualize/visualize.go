// Package visualize renders the loaded orders and products as a single HTML
// page of charts.
package visualize

import (
	"io"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"csvload/internal/catalog"
	"csvload/internal/schema"
)

const pageTitle = "csvload: orders and products"

// Count is one labelled bar or slice.
type Count struct {
	Label string `json:"label" yaml:"label"`
	N     int    `json:"n" yaml:"n"`
}

// Summary holds the aggregates the page is drawn from.
type Summary struct {
	OrdersByStatus     []Count `json:"ordersByStatus" yaml:"orders_by_status"`
	ProductsByCategory []Count `json:"productsByCategory" yaml:"products_by_category"`
	ProductsPerOrder   []Count `json:"productsPerOrder" yaml:"products_per_order"`
}

// Summarize aggregates a joined view plus the full product list. Status and
// category counts are sorted by count descending, then label. Per-order
// counts keep the joined order (by order_id).
func Summarize(joined []catalog.OrderWithProducts, products []schema.Product) Summary {
	status := map[string]int{}
	perOrder := make([]Count, 0, len(joined))
	for _, o := range joined {
		status[labelOf(o.Status)]++
		perOrder = append(perOrder, Count{Label: o.OrderID, N: len(o.Products)})
	}
	category := map[string]int{}
	for _, p := range products {
		category[labelOf(p.Category)]++
	}
	return Summary{
		OrdersByStatus:     ranked(status),
		ProductsByCategory: ranked(category),
		ProductsPerOrder:   perOrder,
	}
}

func labelOf(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func ranked(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, N: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// Render writes the chart page for s to w.
func Render(w io.Writer, s Summary) error {
	page := components.NewPage()
	page.SetPageTitle(pageTitle)
	page.AddCharts(
		barChart("Orders by status", "order count per status value", "orders", s.OrdersByStatus),
		pieChart("Products by category", s.ProductsByCategory),
		barChart("Products per order", "joined on products.order_id", "products", s.ProductsPerOrder),
	)
	return page.Render(w)
}

func barChart(title, subtitle, series string, counts []Count) *charts.Bar {
	labels := make([]string, len(counts))
	data := make([]opts.BarData, len(counts))
	for i, c := range counts {
		labels[i] = c.Label
		data[i] = opts.BarData{Value: c.N}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}))
	bar.SetXAxis(labels).AddSeries(series, data)
	return bar
}

func pieChart(title string, counts []Count) *charts.Pie {
	data := make([]opts.PieData, len(counts))
	for i, c := range counts {
		data[i] = opts.PieData{Name: c.Label, Value: c.N}
	}
	pie := charts.NewPie()
	pie.SetGlobalOptions(charts.WithTitleOpts(opts.Title{Title: title}))
	pie.AddSeries("products", data)
	return pie
}
