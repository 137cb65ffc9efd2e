package extract

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"ecocredit.org/internal/verify"
)

// Tesseract runs a local OCR binary, feeding the image on stdin and reading text from stdout.
type Tesseract struct {
	// Command is the full argv. Defaults to tesseract reading stdin, writing stdout.
	Command []string
}

var defaultTesseract = []string{"tesseract", "stdin", "stdout", "-l", "eng"}

// NewTesseract uses path as the binary, or "tesseract" from PATH when empty.
func NewTesseract(path string) Tesseract {
	cmd := append([]string(nil), defaultTesseract...)
	if strings.TrimSpace(path) != "" {
		cmd[0] = path
	}
	return Tesseract{Command: cmd}
}

func (t Tesseract) ExtractText(ctx context.Context, image []byte) (string, error) {
	argv := t.Command
	if len(argv) == 0 {
		argv = defaultTesseract
	}
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	c.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("command %q failed: %s: %w", argv[0], msg, err)
		}
		return "", fmt.Errorf("command %q failed: %w", argv[0], err)
	}
	return stdout.String(), nil
}

var _ verify.TextExtractor = Tesseract{}
