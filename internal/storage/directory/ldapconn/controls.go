package ldapconn

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/yndnr/tokmesh-cts/internal/storage/directory"
)

// Control OIDs.
const (
	OIDAssertion          = "1.3.6.1.1.12"
	OIDPostRead           = "1.3.6.1.1.13.2"
	OIDPersistentSearch   = "2.16.840.1.113730.3.4.3"
	OIDEntryChange        = "2.16.840.1.113730.3.4.7"
)

// Persistent search change type bits.
const (
	psAdd    = 1
	psDelete = 2
	psModify = 4
	psModDN  = 8
)

// assertionControl wraps a filter per RFC 4528. The control is critical so
// servers that do not support it refuse the operation.
func assertionControl(filter directory.Filter) (ldap.Control, error) {
	packet, err := ldap.CompileFilter(filter.String())
	if err != nil {
		return nil, fmt.Errorf("ldapconn: compile assertion %s: %w", filter, err)
	}
	return ldap.NewControlString(OIDAssertion, true, string(packet.Bytes())), nil
}

// postReadControl requests attributes as of the write per RFC 4527.
func postReadControl(attrs []string) ldap.Control {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "AttributeSelection")
	for _, a := range attrs {
		seq.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a, "attribute"))
	}
	return ldap.NewControlString(OIDPostRead, true, string(seq.Bytes()))
}

// persistentSearchControl asks for every change type, changes only, with
// entry change notifications.
func persistentSearchControl() ldap.Control {
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PersistentSearch")
	seq.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(psAdd|psDelete|psModify|psModDN), "changeTypes"))
	seq.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "changesOnly"))
	seq.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "returnECs"))
	return ldap.NewControlString(OIDPersistentSearch, true, string(seq.Bytes()))
}

func findControl(controls []ldap.Control, oid string) *ldap.ControlString {
	for _, c := range controls {
		if c.GetControlType() != oid {
			continue
		}
		if cs, ok := c.(*ldap.ControlString); ok {
			return cs
		}
	}
	return nil
}

// decodePostRead extracts the entry carried by a post-read response
// control. It returns nil when the control is absent.
func decodePostRead(controls []ldap.Control) (*directory.Entry, error) {
	cs := findControl(controls, OIDPostRead)
	if cs == nil {
		return nil, nil
	}
	packet, err := ber.DecodePacketErr([]byte(cs.ControlValue))
	if err != nil {
		return nil, fmt.Errorf("ldapconn: decode post-read control: %w", err)
	}
	if len(packet.Children) < 2 {
		return nil, fmt.Errorf("ldapconn: post-read control has %d elements", len(packet.Children))
	}
	dn, _ := packet.Children[0].Value.(string)
	e := directory.NewEntry(dn)
	for _, attr := range packet.Children[1].Children {
		if len(attr.Children) < 2 {
			continue
		}
		name, _ := attr.Children[0].Value.(string)
		values := make([]string, 0, len(attr.Children[1].Children))
		for _, v := range attr.Children[1].Children {
			if s, ok := v.Value.(string); ok {
				values = append(values, s)
			}
		}
		e.Put(name, values...)
	}
	return e, nil
}

// decodeEntryChange returns the change type of an entry change
// notification, or false when the control is absent.
func decodeEntryChange(controls []ldap.Control) (directory.ChangeType, bool) {
	cs := findControl(controls, OIDEntryChange)
	if cs == nil {
		return 0, false
	}
	packet, err := ber.DecodePacketErr([]byte(cs.ControlValue))
	if err != nil || len(packet.Children) == 0 {
		return 0, false
	}
	code, ok := packet.Children[0].Value.(int64)
	if !ok {
		return 0, false
	}
	switch code {
	case psAdd:
		return directory.ChangeAdd, true
	case psDelete:
		return directory.ChangeDelete, true
	case psModify, psModDN:
		return directory.ChangeModify, true
	}
	return 0, false
}
