package twilio

import (
	"encoding/xml"
	"time"
)

// announcementVoice is the voice used for all synthesized speech.
const announcementVoice = "alice"

// Document is a TwiML response. Twilio executes verbs in document order;
// the field order here covers every shape this service emits (Dial with a
// fallback Say, Say followed by Hangup, or any subset).
type Document struct {
	XMLName xml.Name `xml:"Response"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Say     *Say     `xml:"Say,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Say speaks text to the connected party.
type Say struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

// Dial bridges the call to a nested number, reporting the outcome to the
// action URL when the attempt ends.
type Dial struct {
	Timeout  int     `xml:"timeout,attr"`
	Action   string  `xml:"action,attr"`
	Method   string  `xml:"method,attr"`
	CallerID string  `xml:"callerId,attr,omitempty"`
	Number   *Number `xml:"Number"`
}

// Number is the dial target; its url is fetched for a pre-connect whisper
// announcement played to the answering party.
type Number struct {
	URL    string `xml:"url,attr,omitempty"`
	Digits string `xml:",chardata"`
}

// Hangup terminates the call.
type Hangup struct{}

// Render serializes the document. The element types above cannot fail to
// marshal, so a bare empty response is the only fallback needed.
func (d *Document) Render() string {
	out, err := xml.MarshalIndent(d, "", "    ")
	if err != nil {
		return xml.Header + "<Response></Response>"
	}
	return xml.Header + string(out)
}

// EmptyResponse is the no-op TwiML document: Twilio continues the call
// unchanged.
func EmptyResponse() string {
	return (&Document{}).Render()
}

// HangupResponse terminates the call immediately.
func HangupResponse() string {
	return (&Document{Hangup: &Hangup{}}).Render()
}

// SpokenHangupResponse speaks a message and then hangs up. Used to recover
// voice-AI start failures into something the caller can hear.
func SpokenHangupResponse(text string) string {
	return (&Document{
		Say:    &Say{Voice: announcementVoice, Text: text},
		Hangup: &Hangup{},
	}).Render()
}

// WhisperResponse speaks an announcement to the answering party before the
// forwarded leg is bridged.
func WhisperResponse(text string) string {
	return (&Document{Say: &Say{Voice: announcementVoice, Text: text}}).Render()
}

// ForwardResponse dials the target with a ring timeout, naming whisperURL as
// the pre-connect announcement and actionURL as the outcome callback. The
// trailing Say plays only if the dial attempt ends without connecting and no
// further instructions arrive from the action callback.
func ForwardResponse(target, actionURL, whisperURL, callerID, fallbackText string, timeout time.Duration) string {
	return (&Document{
		Dial: &Dial{
			Timeout:  int(timeout / time.Second),
			Action:   actionURL,
			Method:   "POST",
			CallerID: callerID,
			Number:   &Number{URL: whisperURL, Digits: target},
		},
		Say: &Say{Voice: announcementVoice, Text: fallbackText},
	}).Render()
}
