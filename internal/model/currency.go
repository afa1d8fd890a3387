package model

// Currency is a pool denomination asset. Digits is the number of decimal
// places its on-chain amounts carry, between 6 and 18 in practice.
type Currency struct {
	ID     string `json:"id"`
	Digits int    `json:"digits"`
}

func (c *Currency) EntityID() string { return c.ID }
