package conduit

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// zeroWidthChars strips Unicode zero-width and invisible characters
// sometimes used to obfuscate a control command's leading token (e.g.
// "/​cancel").
var zeroWidthChars = strings.NewReplacer(
	"​", "",
	"‌", "",
	"‍", "",
	"﻿", "",
	"⁠", "",
	"᠎", "",
	"­", "",
)

// NormalizePromptBody NFKC-normalizes body and strips zero-width
// characters before control-command parsing, so a homoglyph or
// full-width variant of "/cancel" or "/clear" (or one split by an
// invisible character) still parses as the command it visually reads
// as. It does not filter content or reject anything; ParseControlCommand
// still falls through to CommandNone for anything that isn't a
// recognized leading token.
func NormalizePromptBody(body string) string {
	return norm.NFKC.String(zeroWidthChars.Replace(body))
}
