package indicator

import (
	"os"
	"strings"

	"github.com/rbright/voxpage/internal/bus"
	"golang.org/x/text/language"
)

type locale string

const (
	localeEnglish locale = "en"
	localeGerman  locale = "de"
)

var localeMatcher = language.NewMatcher([]language.Tag{language.English, language.German})

type messages struct {
	finalizing string
	correcting string
	notices    map[bus.NoticeKey]string
}

func indicatorMessagesFromEnv() messages {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return indicatorMessages(resolveLocale(v))
		}
	}
	return indicatorMessages(localeEnglish)
}

// resolveLocale maps a POSIX locale such as de_DE.UTF-8 to a supported
// message locale.
func resolveLocale(raw string) locale {
	raw, _, _ = strings.Cut(strings.TrimSpace(raw), ".")
	raw, _, _ = strings.Cut(raw, "@")
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return localeEnglish
	}
	_, index, confidence := localeMatcher.Match(tag)
	if confidence == language.No || index != 1 {
		return localeEnglish
	}
	return localeGerman
}

// text renders a notification; details follow the message after a colon.
func (m messages) text(n bus.Notification) string {
	msg, ok := m.notices[n.Key]
	if !ok {
		msg = string(n.Key)
	}
	detail := strings.TrimSpace(n.Detail)
	switch {
	case detail == "":
		return msg
	case n.Key == bus.NoticePanel:
		return msg + "\n" + detail
	default:
		return msg + ": " + detail
	}
}

func indicatorMessages(tag locale) messages {
	switch tag {
	case localeGerman:
		return messages{
			finalizing: "Wird abgeschlossen…",
			correcting: "Wird korrigiert…",
			notices: map[bus.NoticeKey]string{
				bus.NoticeListening:        "Zuhören…",
				bus.NoticeNoTarget:         "Kein Eingabefeld gefunden",
				bus.NoticeUndrivable:       "Dieser Editor kann nicht beschrieben werden",
				bus.NoticePanel:            "In die Zwischenablage kopiert",
				bus.NoticeNoSpeech:         "Keine Sprache erkannt",
				bus.NoticeEngineError:      "Fehler bei der Spracherkennung",
				bus.NoticePermissionDenied: "Kein Zugriff auf das Mikrofon",
				bus.NoticeDeliveryFailed:   "Text konnte nicht eingefügt werden",
				bus.NoticeCorrectionFailed: "Korrektur fehlgeschlagen",
				bus.NoticeSubmitFailed:     "Absenden fehlgeschlagen",
				bus.NoticeSafetyTimeout:    "Diktat abgebrochen (Zeitüberschreitung)",
				bus.NoticeLanguageChanged:  "Sprache",
				bus.NoticeCommitted:        "Fertig",
				bus.NoticeCancelled:        "Abgebrochen",
			},
		}
	default:
		return messages{
			finalizing: "Finishing…",
			correcting: "Correcting…",
			notices: map[bus.NoticeKey]string{
				bus.NoticeListening:        "Listening…",
				bus.NoticeNoTarget:         "No text field found",
				bus.NoticeUndrivable:       "This editor can't be written to",
				bus.NoticePanel:            "Copied to clipboard",
				bus.NoticeNoSpeech:         "No speech detected",
				bus.NoticeEngineError:      "Speech recognition error",
				bus.NoticePermissionDenied: "Microphone access denied",
				bus.NoticeDeliveryFailed:   "Couldn't write to the page",
				bus.NoticeCorrectionFailed: "Correction failed",
				bus.NoticeSubmitFailed:     "Couldn't submit",
				bus.NoticeSafetyTimeout:    "Dictation timed out",
				bus.NoticeLanguageChanged:  "Language",
				bus.NoticeCommitted:        "Done",
				bus.NoticeCancelled:        "Cancelled",
			},
		}
	}
}
