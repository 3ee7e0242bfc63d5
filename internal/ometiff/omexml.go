// Package ometiff reads and writes OME-TIFF: multi-page TIFF files
// with OME-XML metadata embedded in the first page's ImageDescription.
package ometiff

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/davidsonlab/ndstore/internal/types"
)

const omeXMLNS = "http://www.openmicroscopy.org/Schemas/OME/2016-06"

// OME is the root of the OME-XML document. Only the structural subset
// needed to describe one multi-dimensional image is modeled; unknown
// elements are ignored on read.
type OME struct {
	XMLName xml.Name `xml:"OME"`
	Xmlns   string   `xml:"xmlns,attr"`
	Images  []Image  `xml:"Image"`
}

// Image is one OME image (a position, in acquisition terms).
type Image struct {
	ID              string `xml:"ID,attr"`
	Name            string `xml:"Name,attr,omitempty"`
	AcquisitionDate string `xml:"AcquisitionDate,omitempty"`
	Pixels          Pixels `xml:"Pixels"`
}

// Pixels declares the dimensional layout of the pixel data.
type Pixels struct {
	ID             string  `xml:"ID,attr"`
	DimensionOrder string  `xml:"DimensionOrder,attr"`
	Type           string  `xml:"Type,attr"`
	SizeX          int     `xml:"SizeX,attr"`
	SizeY          int     `xml:"SizeY,attr"`
	SizeZ          int     `xml:"SizeZ,attr"`
	SizeC          int     `xml:"SizeC,attr"`
	SizeT          int     `xml:"SizeT,attr"`
	PhysicalSizeX  float64 `xml:"PhysicalSizeX,attr,omitempty"`
	PhysicalSizeY  float64 `xml:"PhysicalSizeY,attr,omitempty"`
	PhysicalSizeZ  float64 `xml:"PhysicalSizeZ,attr,omitempty"`
	TimeIncrement  float64 `xml:"TimeIncrement,attr,omitempty"`
	Channels       []Channel `xml:"Channel"`
}

// Channel names one acquisition channel.
type Channel struct {
	ID   string `xml:"ID,attr"`
	Name string `xml:"Name,attr,omitempty"`
}

// ParseOMEXML decodes an OME-XML document from an ImageDescription
// payload.
func ParseOMEXML(s string) (*OME, error) {
	var ome OME
	if err := xml.Unmarshal([]byte(s), &ome); err != nil {
		return nil, err
	}
	if len(ome.Images) == 0 {
		return nil, fmt.Errorf("OME document has no Image element")
	}
	return &ome, nil
}

// IsOMEXML reports whether an ImageDescription payload looks like an
// OME document.
func IsOMEXML(s string) bool {
	return strings.Contains(s, "<OME")
}

// BuildOMEXML serializes the descriptor and metadata record into an
// OME document for embedding at write time. The plane order is always
// written as XYZCT: Z varies fastest across pages, then C, then T,
// matching the canonical chunk linearization.
func BuildOMEXML(desc types.Descriptor, meta types.Metadata) (string, error) {
	px := Pixels{
		ID:             "Pixels:0",
		DimensionOrder: "XYZCT",
		Type:           desc.Dtype.String(),
		SizeX:          1,
		SizeY:          1,
		SizeZ:          1,
		SizeC:          1,
		SizeT:          1,
	}
	for _, a := range desc.Axes {
		switch a.Name {
		case types.AxisX:
			px.SizeX = a.Size
			px.PhysicalSizeX = a.Scale
		case types.AxisY:
			px.SizeY = a.Size
			px.PhysicalSizeY = a.Scale
		case types.AxisZ:
			px.SizeZ = a.Size
			px.PhysicalSizeZ = a.Scale
		case types.AxisC:
			px.SizeC = a.Size
		case types.AxisT:
			px.SizeT = a.Size
			px.TimeIncrement = a.Scale
		}
	}
	for i := 0; i < px.SizeC; i++ {
		ch := Channel{ID: fmt.Sprintf("Channel:0:%d", i)}
		if i < len(meta.ChannelNames) {
			ch.Name = meta.ChannelNames[i]
		}
		px.Channels = append(px.Channels, ch)
	}
	img := Image{ID: "Image:0", Name: meta.Name, Pixels: px}
	if !meta.AcquisitionTime.IsZero() {
		img.AcquisitionDate = meta.AcquisitionTime.UTC().Format(time.RFC3339)
	}
	doc := OME{Xmlns: omeXMLNS, Images: []Image{img}}
	raw, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header + string(raw), nil
}
