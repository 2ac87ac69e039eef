// Package widget renders the browser-side checkout launcher for the gateway.
package widget

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/cloudpayments-webhook/internal/common"
)

// DefaultScriptURL is the gateway's hosted widget bundle.
const DefaultScriptURL = "https://widget.cloudpayments.ru/bundles/cloudpayments.js"

// Widget holds the public configuration the checkout page needs. Nothing
// secret belongs here; the API key stays with the provider.
type Widget struct {
	Provider  string
	PublicID  string
	ScriptURL string
	Now       func() time.Time
}

// Options returns the widget defaults merged with overrides. Nested maps
// merge key by key; any other override value replaces the default.
func (w Widget) Options(overrides map[string]any) map[string]any {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	defaults := map[string]any{
		"publicId":  w.PublicID,
		"invoiceId": "CP_invoice_" + strconv.FormatInt(now().UnixMicro(), 10),
	}
	return merge(defaults, overrides)
}

func merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if cur, ok := out[k].(map[string]any); ok {
				out[k] = merge(cur, sub)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// OverridesFromQuery turns query parameters into option overrides. Dotted
// keys nest ("data.orderId=7" becomes {"data": {"orderId": 7}}) and numeric
// values are kept as JSON numbers. Keys apply in sorted order, so a nested
// key replaces a scalar sharing its prefix ("data=1&data.x=2").
func OverridesFromQuery(values map[string][]string) map[string]any {
	out := map[string]any{}
	for _, key := range slices.Sorted(maps.Keys(values)) {
		vals := values[key]
		if key == "" || len(vals) == 0 {
			continue
		}
		path := strings.Split(key, ".")
		node := out
		for _, part := range path[:len(path)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[part] = next
			}
			node = next
		}
		node[path[len(path)-1]] = scalar(vals[len(vals)-1])
	}
	return out
}

func scalar(v string) any {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return json.Number(v)
	}
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	return v
}

// HandleOptions serves the merged options as JSON.
func (w Widget) HandleOptions(rw http.ResponseWriter, r *http.Request) {
	common.JSON(rw, http.StatusOK, w.Options(OverridesFromQuery(r.URL.Query())))
}

// HandleScript serves the HTML snippet that loads the gateway bundle and
// defines CloudPaymentsPay().
func (w Widget) HandleScript(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := w.Render(rw, w.Options(OverridesFromQuery(r.URL.Query()))); err != nil {
		common.JSONError(rw, http.StatusInternalServerError, "WIDGET_RENDER_FAILED", err.Error())
	}
}

type snippet struct {
	ScriptURL string
	Provider  string
	Options   map[string]any
}

// Render writes the launcher snippet for the given options.
func (w Widget) Render(out io.Writer, options map[string]any) error {
	scriptURL := w.ScriptURL
	if scriptURL == "" {
		scriptURL = DefaultScriptURL
	}
	if err := snippetTmpl.Execute(out, snippet{ScriptURL: scriptURL, Provider: w.Provider, Options: options}); err != nil {
		return fmt.Errorf("render widget: %w", err)
	}
	return nil
}

var snippetTmpl = template.Must(template.New("widget").Parse(`<script src="{{.ScriptURL}}"></script>
<script>
function CloudPaymentsPay() {
    const widget = new cp.CloudPayments();
    const options = {{.Options}};
    widget.pay('charge', options, {
        onSuccess: function (options) {
            triggerCpEvent('onPaymentSuccess', {provider: {{.Provider}}, options});
        },
        onFail: function (reason, options) {
            triggerCpEvent('onPaymentFail', {provider: {{.Provider}}, reason, options});
        },
        onComplete: function (paymentResult, options) {
            triggerCpEvent('onPaymentComplete', {provider: {{.Provider}}, paymentResult, options});
        }
    });
}
function triggerCpEvent(name, data) {
    document.dispatchEvent(new CustomEvent(name, {detail: data}));
}
</script>
`))
