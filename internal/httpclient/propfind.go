package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
)

// PropfindResponse aggregates the properties the bridge cares about from a
// multistatus PROPFIND reply.
type PropfindResponse struct {
	CurrentUserPrincipal string
	CalendarHomeSet      string
	AddressbookHomeSet   string
	ScheduleInbox        string
	Resources            map[string]ResourceProps
}

// ResourceProps describes a single responded resource.
type ResourceProps struct {
	IsCalendar    bool
	IsAddressBook bool
	DisplayName   string
	Color         string
	CTag          string
	Etag          string
	CanWrite      bool
	Components    []string
}

const (
	nsDAV         = "DAV:"
	nsCalDAV      = "urn:ietf:params:xml:ns:caldav"
	nsCardDAV     = "urn:ietf:params:xml:ns:carddav"
	nsCalendarSrv = "http://calendarserver.org/ns/"
	nsAppleICal   = "http://apple.com/ns/ical/"
	typeXML       = "application/xml; charset=utf-8"
	typeCalendar  = "text/calendar; charset=utf-8"
	typeVCard     = "text/vcard; charset=utf-8"
)

type propfindXML struct {
	XMLName  xml.Name `xml:"D:propfind"`
	XMLDAV   string   `xml:"xmlns:D,attr"`
	XMLCal   string   `xml:"xmlns:C,attr"`
	XMLCard  string   `xml:"xmlns:R,attr"`
	XMLCS    string   `xml:"xmlns:CS,attr"`
	XMLApple string   `xml:"xmlns:A,attr"`
	Prop     propXML  `xml:"D:prop"`
}

type propXML struct {
	ResourceType         *struct{} `xml:"D:resourcetype,omitempty"`
	DisplayName          *struct{} `xml:"D:displayname,omitempty"`
	Getetag              *struct{} `xml:"D:getetag,omitempty"`
	CurrentUserPrincipal *struct{} `xml:"D:current-user-principal,omitempty"`
	CurrentUserPrivSet   *struct{} `xml:"D:current-user-privilege-set,omitempty"`
	CalendarHomeSet      *struct{} `xml:"C:calendar-home-set,omitempty"`
	AddressbookHomeSet   *struct{} `xml:"R:addressbook-home-set,omitempty"`
	SupportedComponents  *struct{} `xml:"C:supported-calendar-component-set,omitempty"`
	ScheduleInbox        *struct{} `xml:"C:schedule-inbox-URL,omitempty"`
	GetCTag              *struct{} `xml:"CS:getctag,omitempty"`
	CalendarColor        *struct{} `xml:"A:calendar-color,omitempty"`
}

type multistatusXML struct {
	XMLName  xml.Name      `xml:"DAV: multistatus"`
	Response []responseXML `xml:"response"`
}

type responseXML struct {
	Href     string        `xml:"href"`
	Propstat []propstatXML `xml:"propstat"`
}

type propstatXML struct {
	Prop   propertyXML `xml:"prop"`
	Status string      `xml:"status"`
}

type propertyXML struct {
	ResourceType         resourceTypeXML `xml:"resourcetype"`
	DisplayName          string          `xml:"displayname"`
	Getetag              string          `xml:"getetag"`
	CurrentUserPrincipal string          `xml:"current-user-principal>href"`
	CurrentUserPrivSet   privSetXML      `xml:"current-user-privilege-set"`
	CalendarHomeSet      string          `xml:"urn:ietf:params:xml:ns:caldav calendar-home-set>href"`
	AddressbookHomeSet   string          `xml:"urn:ietf:params:xml:ns:carddav addressbook-home-set>href"`
	SupportedComponents  componentSetXML `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-component-set"`
	ScheduleInbox        string          `xml:"urn:ietf:params:xml:ns:caldav schedule-inbox-URL>href"`
	GetCTag              string          `xml:"http://calendarserver.org/ns/ getctag"`
	CalendarColor        string          `xml:"http://apple.com/ns/ical/ calendar-color"`
}

type resourceTypeXML struct {
	Calendar    *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
	Addressbook *struct{} `xml:"urn:ietf:params:xml:ns:carddav addressbook"`
}

type privSetXML struct {
	Privilege []privilegeXML `xml:"privilege"`
}

type privilegeXML struct {
	Write *struct{} `xml:"write"`
}

type componentSetXML struct {
	Comp []struct {
		Name string `xml:"name,attr"`
	} `xml:"comp"`
}

// DoPROPFIND performs a PROPFIND request for the named properties.
func (w *wrapper) DoPROPFIND(ctx context.Context, urlStr string, depth int, props ...string) (*PropfindResponse, error) {
	w.logger.Debug("starting PROPFIND request",
		"url", urlStr,
		"depth", depth,
		"properties", props)

	body, err := buildPropfindXML(props...)
	if err != nil {
		return nil, err
	}

	resolvedURL, err := w.resolveURL(urlStr)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "PROPFIND", resolvedURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Depth", fmt.Sprintf("%d", depth))
	req.Header.Set("Content-Type", typeXML)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		w.logger.Debug("unexpected PROPFIND status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, statusErr(resp.StatusCode)
	}

	var ms multistatusXML
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to parse XML response: %w", err)
	}

	result := &PropfindResponse{Resources: make(map[string]ResourceProps)}
	for _, r := range ms.Response {
		for _, ps := range r.Propstat {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			props := ps.Prop

			if props.CurrentUserPrincipal != "" {
				result.CurrentUserPrincipal = props.CurrentUserPrincipal
			}
			if props.CalendarHomeSet != "" {
				result.CalendarHomeSet = props.CalendarHomeSet
			}
			if props.AddressbookHomeSet != "" {
				result.AddressbookHomeSet = props.AddressbookHomeSet
			}
			if props.ScheduleInbox != "" {
				result.ScheduleInbox = props.ScheduleInbox
			}

			resource := ResourceProps{
				IsCalendar:    props.ResourceType.Calendar != nil,
				IsAddressBook: props.ResourceType.Addressbook != nil,
				DisplayName:   props.DisplayName,
				Color:         props.CalendarColor,
				CTag:          props.GetCTag,
				Etag:          props.Getetag,
			}
			for _, priv := range props.CurrentUserPrivSet.Privilege {
				if priv.Write != nil {
					resource.CanWrite = true
					break
				}
			}
			for _, comp := range props.SupportedComponents.Comp {
				resource.Components = append(resource.Components, comp.Name)
			}
			result.Resources[r.Href] = resource
		}
	}

	w.logger.Debug("PROPFIND request complete",
		"resource_count", len(result.Resources),
		"principal", result.CurrentUserPrincipal != "",
		"calendar_home", result.CalendarHomeSet != "",
		"addressbook_home", result.AddressbookHomeSet != "")
	return result, nil
}

func buildPropfindXML(props ...string) ([]byte, error) {
	pf := propfindXML{
		XMLDAV:   nsDAV,
		XMLCal:   nsCalDAV,
		XMLCard:  nsCardDAV,
		XMLCS:    nsCalendarSrv,
		XMLApple: nsAppleICal,
	}

	marker := &struct{}{}
	for _, prop := range props {
		switch prop {
		case "resourcetype":
			pf.Prop.ResourceType = marker
		case "displayname":
			pf.Prop.DisplayName = marker
		case "getetag":
			pf.Prop.Getetag = marker
		case "current-user-principal":
			pf.Prop.CurrentUserPrincipal = marker
		case "current-user-privilege-set":
			pf.Prop.CurrentUserPrivSet = marker
		case "calendar-home-set":
			pf.Prop.CalendarHomeSet = marker
		case "addressbook-home-set":
			pf.Prop.AddressbookHomeSet = marker
		case "supported-calendar-component-set":
			pf.Prop.SupportedComponents = marker
		case "schedule-inbox-URL":
			pf.Prop.ScheduleInbox = marker
		case "getctag":
			pf.Prop.GetCTag = marker
		case "calendar-color":
			pf.Prop.CalendarColor = marker
		}
	}

	body, err := xml.Marshal(pf)
	if err != nil {
		return nil, fmt.Errorf("failed to build PROPFIND body: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
