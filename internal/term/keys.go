package term

import (
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/dshills/nvbridge/internal/host"
)

// keyNames maps tcell keys to Vim key notation.
var keyNames = map[tcell.Key]string{
	tcell.KeyEscape:     "Esc",
	tcell.KeyEnter:      "CR",
	tcell.KeyTab:        "Tab",
	tcell.KeyBacktab:    "S-Tab",
	tcell.KeyBackspace:  "BS",
	tcell.KeyBackspace2: "BS",
	tcell.KeyDelete:     "Del",
	tcell.KeyInsert:     "Insert",
	tcell.KeyHome:       "Home",
	tcell.KeyEnd:        "End",
	tcell.KeyPgUp:       "PageUp",
	tcell.KeyPgDn:       "PageDown",
	tcell.KeyUp:         "Up",
	tcell.KeyDown:       "Down",
	tcell.KeyLeft:       "Left",
	tcell.KeyRight:      "Right",
	tcell.KeyF1:         "F1",
	tcell.KeyF2:         "F2",
	tcell.KeyF3:         "F3",
	tcell.KeyF4:         "F4",
	tcell.KeyF5:         "F5",
	tcell.KeyF6:         "F6",
	tcell.KeyF7:         "F7",
	tcell.KeyF8:         "F8",
	tcell.KeyF9:         "F9",
	tcell.KeyF10:        "F10",
	tcell.KeyF11:        "F11",
	tcell.KeyF12:        "F12",
}

// Translate converts a tcell key event into a host token. Typed characters
// become text tokens; everything else is a raw token in Vim notation such
// as "<C-w>" or "<S-Left>". It returns false for keys with no notation.
func Translate(ev *tcell.EventKey) (host.Token, bool) {
	mod := ev.Modifiers()

	switch k := ev.Key(); {
	case k == tcell.KeyRune:
		r := ev.Rune()
		if mod&(tcell.ModCtrl|tcell.ModAlt) == 0 {
			return host.Token{Text: string(r)}, true
		}
		name := string(r)
		if r == ' ' {
			name = "Space"
		} else if r == '<' {
			name = "lt"
		}
		return raw(modPrefix(mod&^tcell.ModShift) + name), true

	case k == tcell.KeyCtrlSpace:
		return raw("C-Space"), true
	}

	if name, ok := keyNames[ev.Key()]; ok {
		if strings.HasPrefix(name, "S-") {
			return raw(name), true
		}
		return raw(modPrefix(mod) + name), true
	}

	// Control letters other than those named above (Tab is Ctrl-I, Enter is
	// Ctrl-M and so on).
	if k := ev.Key(); k >= tcell.KeyCtrlA && k <= tcell.KeyCtrlZ {
		letter := rune('a' + int(k-tcell.KeyCtrlA))
		return raw(modPrefix((mod|tcell.ModCtrl)&^tcell.ModShift) + string(letter)), true
	}
	return host.Token{}, false
}

func raw(name string) host.Token {
	return host.Token{Text: "<" + name + ">", Raw: true}
}

func modPrefix(mod tcell.ModMask) string {
	var b strings.Builder
	if mod&tcell.ModShift != 0 {
		b.WriteString("S-")
	}
	if mod&tcell.ModCtrl != 0 {
		b.WriteString("C-")
	}
	if mod&tcell.ModAlt != 0 {
		b.WriteString("M-")
	}
	if mod&tcell.ModMeta != 0 {
		b.WriteString("D-")
	}
	return b.String()
}
