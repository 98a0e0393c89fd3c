// Package classifier maps visible page text to a registration status and a confidence.
//
// Classification is literal keyword matching: each status has an ordered group of
// case-insensitive regular expressions covering English plus German, French, Italian
// and Spanish phrasing. Groups are evaluated in a fixed precedence so that rare,
// specific signals (sold out, waitlist) win over the generic "register" boilerplate
// found on most event pages. Classify is a pure function of its input.
package classifier
