package davclient

import (
	"time"

	"github.com/beevik/etree"
)

// REPORT request builders. Bodies are built as etree documents so callers can
// extend them before sending.

const icalTimeFormat = "20060102T150405Z"

func newReportDoc() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	return doc
}

// CalendarQuery builds a calendar-query REPORT for VEVENTs, optionally
// constrained to a time range.
func CalendarQuery(start, end *time.Time) *etree.Document {
	doc := newReportDoc()
	root := doc.CreateElement("C:calendar-query")
	root.CreateAttr("xmlns:D", "DAV:")
	root.CreateAttr("xmlns:C", "urn:ietf:params:xml:ns:caldav")

	prop := root.CreateElement("D:prop")
	prop.CreateElement("D:getetag")
	prop.CreateElement("C:calendar-data")

	filter := root.CreateElement("C:filter")
	calFilter := filter.CreateElement("C:comp-filter")
	calFilter.CreateAttr("name", "VCALENDAR")
	eventFilter := calFilter.CreateElement("C:comp-filter")
	eventFilter.CreateAttr("name", "VEVENT")

	if start != nil && end != nil {
		tr := eventFilter.CreateElement("C:time-range")
		tr.CreateAttr("start", start.UTC().Format(icalTimeFormat))
		tr.CreateAttr("end", end.UTC().Format(icalTimeFormat))
	}

	return doc
}

// CalendarMultiget builds a calendar-multiget REPORT for the named hrefs.
func CalendarMultiget(hrefs []string) *etree.Document {
	doc := newReportDoc()
	root := doc.CreateElement("C:calendar-multiget")
	root.CreateAttr("xmlns:D", "DAV:")
	root.CreateAttr("xmlns:C", "urn:ietf:params:xml:ns:caldav")

	prop := root.CreateElement("D:prop")
	prop.CreateElement("D:getetag")
	prop.CreateElement("C:calendar-data")

	for _, href := range hrefs {
		root.CreateElement("D:href").SetText(href)
	}

	return doc
}

// FreeBusyQuery builds a free-busy-query REPORT for the given window.
func FreeBusyQuery(start, end time.Time) *etree.Document {
	doc := newReportDoc()
	root := doc.CreateElement("C:free-busy-query")
	root.CreateAttr("xmlns:C", "urn:ietf:params:xml:ns:caldav")

	tr := root.CreateElement("C:time-range")
	tr.CreateAttr("start", start.UTC().Format(icalTimeFormat))
	tr.CreateAttr("end", end.UTC().Format(icalTimeFormat))

	return doc
}

// AddressbookQuery builds an addressbook-query REPORT returning full vCard
// bodies.
func AddressbookQuery() *etree.Document {
	doc := newReportDoc()
	root := doc.CreateElement("R:addressbook-query")
	root.CreateAttr("xmlns:D", "DAV:")
	root.CreateAttr("xmlns:R", "urn:ietf:params:xml:ns:carddav")

	prop := root.CreateElement("D:prop")
	prop.CreateElement("D:getetag")
	prop.CreateElement("R:address-data")

	return doc
}

// AddressbookMultiget builds an addressbook-multiget REPORT for the named
// hrefs.
func AddressbookMultiget(hrefs []string) *etree.Document {
	doc := newReportDoc()
	root := doc.CreateElement("R:addressbook-multiget")
	root.CreateAttr("xmlns:D", "DAV:")
	root.CreateAttr("xmlns:R", "urn:ietf:params:xml:ns:carddav")

	prop := root.CreateElement("D:prop")
	prop.CreateElement("D:getetag")
	prop.CreateElement("R:address-data")

	for _, href := range hrefs {
		root.CreateElement("D:href").SetText(href)
	}

	return doc
}
