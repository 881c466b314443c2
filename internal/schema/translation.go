package schema

import "time"

// Translation is the content of a card: the translated text and a few
// optional extras shown next to it.
type Translation struct {
	ID           EntityKey `json:"key"`
	Translation  string    `json:"translation"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Example      string    `json:"example,omitempty"`
	Modified     time.Time `json:"modified_at"`
}

func (t *Translation) Key() EntityKey            { return t.ID }
func (t *Translation) ModifiedAt() time.Time     { return t.Modified }
func (t *Translation) SetModifiedAt(m time.Time) { t.Modified = m }
