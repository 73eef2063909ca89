package models

// Contact is a registrant or administrative contact handle. Contacts carry
// no registration period, so transfer resolution only moves sponsorship.
type Contact struct {
	EppResource

	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (c *Contact) Kind() ResourceKind { return KindContact }

func (c *Contact) Base() *EppResource { return &c.EppResource }

func (c *Contact) Clone() Resource {
	out := *c
	out.EppResource = c.cloneBase()
	return &out
}
