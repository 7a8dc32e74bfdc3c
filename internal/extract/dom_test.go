package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const twoColumnHTML = `<html><body>
<dl>
	<dt>Buyer name</dt><dd>Department of Finance</dd>
	<dt>Contract length</dt><dd>2 years, with
		one extension</dd>
</dl>
<table>
	<tr><th>Closing date</th><td>1 May 2026</td></tr>
	<tr><td>Location</td><td>Sydney</td></tr>
	<tr><td>a</td><td>b</td><td>c</td></tr>
</table>
<div class="field"><span class="field-label">Opportunity status</span><span class="field-value">Open</span></div>
<div><span class="label">Procuring entity</span><span class="value">Services Australia</span></div>
</body></html>`

func TestScanDOM(t *testing.T) {
	fields, extra := scanDOM(twoColumnHTML, map[string]Field{"procuring entity": FieldBuyer})

	assert.Equal(t, map[Field]string{
		FieldBuyer:       "Department of Finance",
		FieldClosingDate: "1 May 2026",
		FieldLocation:    "Sydney",
		FieldStatus:      "Open",
	}, fields)
	assert.Equal(t, map[string]string{
		"contract_length": "2 years, with one extension",
	}, extra)
}

func TestScanDOMEmpty(t *testing.T) {
	fields, extra := scanDOM("   ", nil)
	assert.Empty(t, fields)
	assert.Empty(t, extra)
}

func TestNormalizeKey(t *testing.T) {
	tests := map[string]string{
		"Closing Date":          "closing_date",
		"  Closing date (AEST)": "closing_date_aest",
		"Buyer's name:":         "buyer_s_name",
		"--":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeKey(in), in)
	}
}
