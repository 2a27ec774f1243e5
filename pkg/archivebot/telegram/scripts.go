package telegram

import (
	"encoding/json"
	"fmt"
)

// Every script is an IIFE taking one JSON argument. The leading marker
// comment names the script in logs and test doubles.

const visibleFn = `function visible(el) {
	if (!el) return false;
	var s = window.getComputedStyle(el);
	if (s.display === 'none' || s.visibility === 'hidden') return false;
	return el.getClientRects().length > 0;
}`

const authScript = `/*archivebot:auth*/ (function(p) {
	` + visibleFn + `
	for (var i = 0; i < p.selectors.length; i++) {
		var els = document.querySelectorAll(p.selectors[i]);
		for (var j = 0; j < els.length; j++) {
			if (visible(els[j])) return true;
		}
	}
	return false;
})(%s)`

const menuScript = `/*archivebot:menu*/ (function(p) {
	` + visibleFn + `
	var btn = document.querySelector(p.button);
	if (!visible(btn)) return false;
	btn.click();
	return true;
})(%s)`

const archiveItemScript = `/*archivebot:archive-item*/ (function(p) {
	var items = document.querySelectorAll(p.item);
	for (var i = 0; i < items.length; i++) {
		var text = items[i].textContent || '';
		for (var j = 0; j < p.labels.length; j++) {
			if (text.indexOf(p.labels[j]) !== -1) {
				items[i].click();
				return true;
			}
		}
	}
	return false;
})(%s)`

const listScript = `/*archivebot:list*/ (function(p) {
	` + visibleFn + `
	var seen = {};
	var out = [];
	var items = document.querySelectorAll(p.item);
	for (var i = 0; i < items.length; i++) {
		var el = items[i];
		var badge = null;
		for (var b = 0; b < p.badges.length; b++) {
			var cand = el.querySelector(p.badges[b]);
			if (visible(cand)) { badge = cand; break; }
		}
		if (!badge) continue;
		var nameEl = el.querySelector(p.name);
		var name = nameEl ? (nameEl.textContent || '').trim() : '';
		if (!name) continue;
		var peer = el.getAttribute('data-peer-id') || '';
		var key = peer || name;
		if (seen[key]) continue;
		seen[key] = true;
		var count = parseInt((badge.textContent || '').replace(/\D+/g, ''), 10);
		out.push({
			name: name,
			peer_id: peer,
			unread: isNaN(count) || count < 1 ? 1 : count,
			muted: el.matches(p.muted) || !!el.querySelector(p.muted),
			y: el.getBoundingClientRect().top
		});
	}
	out.sort(function(a, b) { return p.oldest_first ? b.y - a.y : a.y - b.y; });
	return out;
})(%s)`

const selectScript = `/*archivebot:select*/ (function(p) {
	var items = document.querySelectorAll(p.item);
	for (var i = 0; i < items.length; i++) {
		var nameEl = items[i].querySelector(p.name);
		if (nameEl && (nameEl.textContent || '').trim() === p.target) {
			items[i].scrollIntoView({block: 'center'});
			items[i].click();
			return true;
		}
	}
	return false;
})(%s)`

const historyScript = `/*archivebot:history*/ (function(p) {
	var bubbles = document.querySelectorAll(p.bubble);
	var start = Math.max(0, bubbles.length - p.max);
	var out = [];
	for (var i = start; i < bubbles.length; i++) {
		var el = bubbles[i];
		var cls = el.className || '';
		if (cls.indexOf('is-date') !== -1 || cls.indexOf('service') !== -1) continue;
		var text = '';
		var msg = el.querySelector('.message');
		if (msg) {
			var tr = msg.querySelector(p.text + ':not(.reply ' + p.text + ')');
			if (tr && (tr.textContent || '').trim()) {
				text = tr.textContent;
			} else {
				var clone = msg.cloneNode(true);
				clone.querySelectorAll('.reply, .time').forEach(function(n) { n.remove(); });
				text = clone.textContent || '';
			}
		}
		if (!text.trim()) {
			var body = el.querySelector('.bubble-content');
			if (body) {
				if (body.querySelector('.media-sticker-wrapper')) text = '[sticker]';
				else if (body.querySelector('.media-photo')) text = '[photo]';
				else if (body.querySelector('.media-video')) text = '[video]';
				else if (body.querySelector('audio-element')) text = '[voice message]';
				else if (body.querySelector('.attachment')) text = '[media]';
			}
		}
		text = text.replace(/\s+/g, ' ').trim();
		if (!text) continue;
		out.push({text: text, out: cls.indexOf('is-out') !== -1});
	}
	return out;
})(%s)`

const focusInputScript = `/*archivebot:focus-input*/ (function(p) {
	` + visibleFn + `
	for (var i = 0; i < p.inputs.length; i++) {
		var el = document.querySelector(p.inputs[i]);
		if (!visible(el)) continue;
		el.click();
		el.focus();
		el.innerHTML = '';
		el.textContent = '';
		return true;
	}
	return false;
})(%s)`

const sendScript = `/*archivebot:send*/ (function(p) {
	` + visibleFn + `
	for (var i = 0; i < p.buttons.length; i++) {
		var el = document.querySelector(p.buttons[i]);
		if (visible(el)) { el.click(); return true; }
	}
	return false;
})(%s)`

// script binds params to a script template.
func script(tmpl string, params any) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding script params: %w", err)
	}
	return fmt.Sprintf(tmpl, data), nil
}
