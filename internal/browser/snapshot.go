// internal/browser/snapshot.go
package browser

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// InputDescriptor describes one visible form control on the page. Index is
// the value of the data-ap-id attribute the capture script stamps onto the
// element, so later actions can address it with a stable selector.
type InputDescriptor struct {
	Index    int    `json:"index"`
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	Required bool   `json:"required"`
}

// ButtonDescriptor describes one clickable element on the page.
type ButtonDescriptor struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Snapshot is a point-in-time structural view of the page: the visible form
// controls and buttons, plus a structural hash used for change detection.
type Snapshot struct {
	URL        string
	Title      string
	Hash       string
	Inputs     []InputDescriptor
	Buttons    []ButtonDescriptor
	CapturedAt time.Time
}

// InputLabels returns the labels of all captured form controls, in page order.
func (s *Snapshot) InputLabels() []string {
	labels := make([]string, 0, len(s.Inputs))
	for _, in := range s.Inputs {
		labels = append(labels, in.Label)
	}
	return labels
}

// ButtonTexts returns the visible texts of all captured buttons.
func (s *Snapshot) ButtonTexts() []string {
	texts := make([]string, 0, len(s.Buttons))
	for _, b := range s.Buttons {
		texts = append(texts, b.Text)
	}
	return texts
}

// InputByLabel returns the first input whose label equals the given string.
func (s *Snapshot) InputByLabel(label string) (InputDescriptor, bool) {
	for _, in := range s.Inputs {
		if in.Label == label {
			return in, true
		}
	}
	return InputDescriptor{}, false
}

// ButtonByText returns the first button whose text equals the given string.
func (s *Snapshot) ButtonByText(text string) (ButtonDescriptor, bool) {
	for _, b := range s.Buttons {
		if b.Text == text {
			return b, true
		}
	}
	return ButtonDescriptor{}, false
}

// StructuralHash digests the page structure signature ("elementCount:textLen")
// into a stable hex string. Two captures with the same hash are treated as
// the same DOM state.
func StructuralHash(structure string) string {
	sum := md5.Sum([]byte(structure))
	return hex.EncodeToString(sum[:])
}

// capturePayload is the wire shape returned by the capture script.
type capturePayload struct {
	URL       string             `json:"url"`
	Title     string             `json:"title"`
	Structure string             `json:"structure"`
	Inputs    []InputDescriptor  `json:"inputs"`
	Buttons   []ButtonDescriptor `json:"buttons"`
}

// parseSnapshot decodes the JSON payload emitted by captureScript.
func parseSnapshot(payload string, now time.Time) (*Snapshot, error) {
	var p capturePayload
	if err := json.UnmarshalFromString(payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode page capture payload: %w", err)
	}
	return &Snapshot{
		URL:        p.URL,
		Title:      p.Title,
		Hash:       StructuralHash(p.Structure),
		Inputs:     p.Inputs,
		Buttons:    p.Buttons,
		CapturedAt: now,
	}, nil
}

// captureScript inventories the visible form controls and buttons and stamps
// each with a data-ap-id attribute so subsequent actions can target it by
// selector. It also reports the structural signature used for hashing.
const captureScript = `(() => {
	const visible = (el) => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length);
	const labelFor = (el) => {
		if (el.id) {
			const l = document.querySelector('label[for="' + CSS.escape(el.id) + '"]');
			if (l && l.innerText.trim()) return l.innerText.trim();
		}
		const wrap = el.closest('label');
		if (wrap && wrap.innerText.trim()) return wrap.innerText.trim();
		return (el.getAttribute('aria-label') || el.placeholder || el.name || '').trim();
	};
	const out = { inputs: [], buttons: [] };
	let idx = 0;
	for (const el of document.querySelectorAll('input, textarea, select')) {
		if (el.type === 'hidden' || !visible(el)) continue;
		el.setAttribute('data-ap-id', String(idx));
		out.inputs.push({
			index: idx,
			tag: el.tagName.toLowerCase(),
			type: (el.type || '').toLowerCase(),
			label: labelFor(el),
			value: el.value || '',
			required: el.required === true,
		});
		idx++;
	}
	for (const el of document.querySelectorAll('button, input[type=submit], input[type=button], a[role=button], [role=button]')) {
		if (!visible(el)) continue;
		el.setAttribute('data-ap-id', String(idx));
		out.buttons.push({
			index: idx,
			text: (el.innerText || el.value || el.getAttribute('aria-label') || '').trim(),
		});
		idx++;
	}
	out.structure = document.querySelectorAll('*').length + ':' + (document.body ? document.body.innerText.length : 0);
	out.url = location.href;
	out.title = document.title;
	return JSON.stringify(out);
})()`

// structureScript is the lightweight probe used during stability polling; it
// reports only the structural signature, never mutating the page.
const structureScript = `(() => document.querySelectorAll('*').length + ':' + (document.body ? document.body.innerText.length : 0))()`
