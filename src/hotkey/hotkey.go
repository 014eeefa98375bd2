package hotkey

import (
	"log"
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"
)

// Binding associates one hotkey combination with a callback. Callbacks run on
// the hook goroutine and must hand off real work quickly.
type Binding struct {
	Combo    string
	Callback func()
}

type keyState struct {
	name     string
	rawcodes []uint16
	pressed  bool
}

type combo struct {
	label    string
	keys     []keyState
	callback func()
}

// Listen starts a single global keyboard hook serving every binding. gohook
// only supports one Start per process, so all combinations share the event
// stream.
func Listen(bindings []Binding) {
	var combos []*combo
	for _, b := range bindings {
		c := buildCombo(b)
		if c == nil {
			continue
		}
		combos = append(combos, c)
		log.Printf("Hotkey: listener configured for %s", b.Combo)
	}
	if len(combos) == 0 {
		log.Printf("Hotkey: ERROR: no valid hotkey bindings")
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Hotkey: PANIC in hook goroutine: %v", r)
			}
		}()

		evChan := gohook.Start()
		if evChan == nil {
			log.Printf("Hotkey: ERROR: gohook.Start() returned nil channel")
			return
		}

		var mu sync.Mutex
		for ev := range evChan {
			switch ev.Kind {
			case gohook.KeyDown:
				mu.Lock()
				var fired []func()
				for _, c := range combos {
					if c.press(ev.Rawcode) {
						log.Printf("Hotkey: combination detected: %s", c.label)
						c.reset()
						fired = append(fired, c.callback)
					}
				}
				mu.Unlock()
				for _, f := range fired {
					if f != nil {
						f()
					}
				}
			case gohook.KeyUp:
				mu.Lock()
				for _, c := range combos {
					c.release(ev.Rawcode)
				}
				mu.Unlock()
			}
		}
		log.Printf("Hotkey: event channel closed")
	}()
}

func buildCombo(b Binding) *combo {
	names := parseHotkey(b.Combo)
	c := &combo{label: b.Combo, callback: b.Callback}
	for _, name := range names {
		rawcodes := keyNameToRawcodes(name)
		if len(rawcodes) == 0 {
			log.Printf("Hotkey: ERROR: cannot map key %q in %q to rawcodes", name, b.Combo)
			continue
		}
		c.keys = append(c.keys, keyState{name: name, rawcodes: rawcodes})
	}
	if len(c.keys) == 0 {
		log.Printf("Hotkey: ERROR: no valid keys in hotkey configuration %q", b.Combo)
		return nil
	}
	return c
}

// press marks a matching key down and reports whether the whole combination
// is now held.
func (c *combo) press(rawcode uint16) bool {
	matched := false
	for i := range c.keys {
		if c.keys[i].matches(rawcode) {
			c.keys[i].pressed = true
			matched = true
		}
	}
	if !matched {
		return false
	}
	for i := range c.keys {
		if !c.keys[i].pressed {
			return false
		}
	}
	return true
}

func (c *combo) release(rawcode uint16) {
	for i := range c.keys {
		if c.keys[i].matches(rawcode) {
			c.keys[i].pressed = false
		}
	}
}

func (c *combo) reset() {
	for i := range c.keys {
		c.keys[i].pressed = false
	}
}

func (k *keyState) matches(rawcode uint16) bool {
	for _, rc := range k.rawcodes {
		if rc == rawcode {
			return true
		}
	}
	return false
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+t" to normalized key names.
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch part {
		case "win", "cmd", "super":
			keys = append(keys, "cmd")
		default:
			keys = append(keys, part)
		}
	}
	return keys
}

// rawcodeTable maps normalized key names to Windows virtual key codes.
// Modifiers list both left and right variants.
var rawcodeTable = map[string][]uint16{
	"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":   {164, 165}, // VK_LMENU, VK_RMENU
	"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

	"space":     {32},
	"enter":     {13},
	"return":    {13},
	"esc":       {27},
	"escape":    {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"del":       {46},
	"insert":    {45},
	"ins":       {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pgup":      {33},
	"pagedown":  {34},
	"pgdn":      {34},

	"left":  {37},
	"up":    {38},
	"right": {39},
	"down":  {40},
}

// keyNameToRawcodes maps a key name to its Windows virtual key code rawcodes.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))

	if codes, ok := rawcodeTable[keyName]; ok {
		return codes
	}
	// Letters a-z sit at VK 0x41-0x5A, digits 0-9 at 0x30-0x39.
	if len(keyName) == 1 {
		ch := keyName[0]
		if ch >= 'a' && ch <= 'z' {
			return []uint16{uint16(ch - 'a' + 65)}
		}
		if ch >= '0' && ch <= '9' {
			return []uint16{uint16(ch - '0' + 48)}
		}
	}
	// Function keys F1-F24 sit at VK 112-135.
	if strings.HasPrefix(keyName, "f") && len(keyName) <= 3 {
		n := 0
		for _, r := range keyName[1:] {
			if r < '0' || r > '9' {
				n = 0
				break
			}
			n = n*10 + int(r-'0')
		}
		if n >= 1 && n <= 24 {
			return []uint16{uint16(111 + n)}
		}
	}

	log.Printf("Hotkey: WARNING: unknown key name %q, cannot map to rawcode", keyName)
	return nil
}
