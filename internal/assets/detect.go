package assets

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var extensionKinds = map[string]Kind{
	".mp4": KindVideo, ".mov": KindVideo, ".m4v": KindVideo, ".webm": KindVideo,
	".mkv": KindVideo, ".avi": KindVideo, ".mpeg": KindVideo, ".mpg": KindVideo,
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".gif": KindImage,
	".webp": KindImage, ".bmp": KindImage,
	".mp3": KindAudio, ".wav": KindAudio, ".m4a": KindAudio, ".aac": KindAudio,
	".ogg": KindAudio, ".flac": KindAudio, ".opus": KindAudio,
}

var defaultExtensions = map[Kind]string{
	KindVideo: ".mp4",
	KindImage: ".png",
	KindAudio: ".m4a",
}

// kindFromDeclared accepts either a bare kind ("video") or a MIME type
// ("video/mp4"). Unknown values return "".
func kindFromDeclared(declared string) Kind {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared == "" {
		return ""
	}
	if base, _, err := mime.ParseMediaType(declared); err == nil {
		declared = base
	}
	family, _, _ := strings.Cut(declared, "/")
	switch Kind(family) {
	case KindVideo, KindImage, KindAudio:
		return Kind(family)
	case KindGenerated:
		return KindGenerated
	}
	return ""
}

// sniffKind inspects the file extension and then the leading bytes.
func sniffKind(path, originalName string) (Kind, string) {
	for _, name := range []string{originalName, path} {
		ext := strings.ToLower(filepath.Ext(name))
		if kind, ok := extensionKinds[ext]; ok {
			return kind, ext
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	contentType := http.DetectContentType(head[:n])
	kind := kindFromDeclared(contentType)
	if kind == "" || kind == KindGenerated {
		return "", ""
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		for _, ext := range exts {
			if extensionKinds[ext] == kind {
				return kind, ext
			}
		}
	}
	return kind, defaultExtensions[kind]
}

// resolveKind combines the declared type with sniffing. A declared family
// wins when it is specific; "generated" or empty defers to the file.
func resolveKind(declared, path, originalName string) (Kind, string) {
	sniffed, ext := sniffKind(path, originalName)
	want := kindFromDeclared(declared)
	switch want {
	case KindVideo, KindImage, KindAudio:
		if sniffed != want || ext == "" {
			ext = defaultExtensions[want]
			if e := strings.ToLower(filepath.Ext(originalName)); extensionKinds[e] == want {
				ext = e
			}
		}
		return want, ext
	default:
		if strings.TrimSpace(declared) != "" && want == "" {
			return "", ""
		}
		return sniffed, ext
	}
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// sanitizeName reduces an uploaded file name to a safe display name: accents
// are folded, path components dropped, and anything outside a conservative
// character set replaced.
func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		name = ""
	}
	folded, _, err := transform.String(transform.Chain(norm.NFKD, stripMarks, norm.NFC), name)
	if err == nil {
		name = folded
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_' || r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), " ._")
	if len(out) > 120 {
		out = out[:120]
	}
	if out == "" {
		return "upload"
	}
	return out
}
