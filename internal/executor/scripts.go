// internal/executor/scripts.go
package executor

import "fmt"

// describeTarget is the shape returned by the click inspection script.
type describeTarget struct {
	Found      bool   `json:"found"`
	Tag        string `json:"tag"`
	ID         string `json:"id"`
	Classes    string `json:"classes"`
	Role       string `json:"role"`
	Label      string `json:"label"`
	Background string `json:"background"`
	Color      string `json:"color"`
	Text       string `json:"text"`
}

// describeAndFocusScript resolves the topmost element at a pixel point,
// focuses it when focusable, and returns a compact description so the
// reasoning service gets a semantically useful confirmation of what was
// actually hit. Runs before the synthetic mouse events are dispatched.
func describeAndFocusScript(px, py int) string {
	return fmt.Sprintf(`(() => {
	const el = document.elementFromPoint(%d, %d);
	if (!el) return { found: false };
	const focusable = ['INPUT', 'TEXTAREA', 'SELECT', 'BUTTON', 'A'];
	if (typeof el.focus === 'function' && (el.tabIndex >= 0 || focusable.includes(el.tagName))) {
		el.focus();
	}
	const classify = (raw) => {
		const m = /rgba?\((\d+),\s*(\d+),\s*(\d+)/.exec(raw || '');
		if (!m) return 'transparent';
		const lum = 0.299 * m[1] + 0.587 * m[2] + 0.114 * m[3];
		return lum > 128 ? 'light' : 'dark';
	};
	const style = window.getComputedStyle(el);
	const cls = (typeof el.className === 'string' ? el.className : '').trim();
	return {
		found: true,
		tag: el.tagName.toLowerCase(),
		id: el.id || '',
		classes: cls.split(/\s+/).filter(Boolean).slice(0, 3).join('.'),
		role: el.getAttribute('role') || '',
		label: el.getAttribute('aria-label') || '',
		background: classify(style.backgroundColor),
		color: classify(style.color),
		text: ((el.innerText || el.value || '') + '').trim().slice(0, 120),
	};
})()`, px, py)
}

// typeResult is the shape returned by the direct-typing script.
type typeResult struct {
	Typed bool   `json:"typed"`
	Tag   string `json:"tag"`
}

// typeIntoFocusedScript writes text into the focused element when it is
// a text input, textarea, or contenteditable, firing an input event so
// framework bindings notice the change. Returns typed=false when the
// focused element is not editable; the caller then falls back to
// per-character key events.
func typeIntoFocusedScript(text string) string {
	return fmt.Sprintf(`((text) => {
	const el = document.activeElement;
	if (!el) return { typed: false, tag: '' };
	const tag = el.tagName.toLowerCase();
	if (tag === 'input' || tag === 'textarea') {
		el.value = text;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return { typed: true, tag };
	}
	if (el.isContentEditable) {
		el.textContent = text;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return { typed: true, tag };
	}
	return { typed: false, tag };
})(%s)`, jsString(text))
}

// scrollResult is the shape returned by the scroll script.
type scrollResult struct {
	Target string `json:"target"` // "element" or "window"
}

// scrollScript scrolls by (dx, dy). With a target point, it walks up
// from the element at that point to the nearest ancestor whose computed
// overflow is scrollable and whose content exceeds its box, and scrolls
// that ancestor; without one, or when no such ancestor exists, it
// scrolls the window.
func scrollScript(dx, dy int, hasPoint bool, px, py int) string {
	point := "null"
	if hasPoint {
		point = fmt.Sprintf("document.elementFromPoint(%d, %d)", px, py)
	}
	return fmt.Sprintf(`(() => {
	const scrollable = (el) => {
		const s = window.getComputedStyle(el);
		const overflow = s.overflowY + s.overflowX;
		return /(auto|scroll|overlay)/.test(overflow) &&
			(el.scrollHeight > el.clientHeight || el.scrollWidth > el.clientWidth);
	};
	let el = %s;
	while (el && el !== document.body && el !== document.documentElement) {
		if (scrollable(el)) {
			el.scrollBy(%d, %d);
			return { target: 'element' };
		}
		el = el.parentElement;
	}
	window.scrollBy(%d, %d);
	return { target: 'window' };
})()`, point, dx, dy, dx, dy)
}

// jsString quotes a Go string as a JavaScript string literal.
func jsString(s string) string {
	return fmt.Sprintf("%q", s)
}
