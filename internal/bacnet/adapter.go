package bacnet

import (
	"fmt"
	"net"
	"strings"

	"github.com/alexbeltran/gobacnet"
	"github.com/alexbeltran/gobacnet/property"
	"github.com/alexbeltran/gobacnet/types"

	"github.com/openbms-io/supervisor-sub000/internal/models"
)

// gobacnetConn adapts the gobacnet client to the Conn interface. All
// contact with the protocol library lives in this file.
type gobacnetConn struct {
	client *gobacnet.Client
}

// Dial opens a gobacnet client bound to the reader's local endpoint.
func Dial(cfg models.ReaderConfig) (Conn, error) {
	iface, err := interfaceForAddress(cfg.IPAddress)
	if err != nil {
		return nil, err
	}
	client, err := gobacnet.NewClient(iface, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("create protocol client on %s: %w", iface, err)
	}
	return &gobacnetConn{client: client}, nil
}

// interfaceForAddress resolves the local interface that owns the given
// IP. gobacnet binds to an interface name, not an address.
func interfaceForAddress(ip string) (string, error) {
	target := net.ParseIP(ip)
	if target == nil {
		return "", fmt.Errorf("invalid reader ip %q", ip)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if ok && ipNet.IP.Equal(target) {
				return iface.Name, nil
			}
		}
	}
	return "", fmt.Errorf("no local interface owns %s", ip)
}

func (c *gobacnetConn) Close() error {
	c.client.Close()
	return nil
}

func (c *gobacnetConn) WhoIs(low, high int) ([]uint32, error) {
	devices, err := c.client.WhoIs(low, high)
	if err != nil {
		return nil, err
	}
	instances := make([]uint32, 0, len(devices))
	for _, dev := range devices {
		instances = append(instances, uint32(dev.ID.Instance))
	}
	return instances, nil
}

// deviceFor builds a unicast destination for a controller address.
func deviceFor(ip string) (types.Device, error) {
	addr := ip
	if !strings.Contains(addr, ":") {
		addr = fmt.Sprintf("%s:%d", addr, gobacnet.DefaultPort)
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return types.Device{}, fmt.Errorf("invalid controller address %s: %w", ip, err)
	}
	return types.Device{Addr: types.UDPToAddress(udpAddr)}, nil
}

func libObjectID(objectType models.ObjectType, objectID uint32) (types.ObjectID, error) {
	num, ok := ObjectTypeNumber(objectType)
	if !ok {
		return types.ObjectID{}, fmt.Errorf("unsupported object type %q", objectType)
	}
	return types.ObjectID{
		Type:     types.ObjectType(num),
		Instance: types.ObjectInstance(objectID),
	}, nil
}

func (c *gobacnetConn) ObjectList(ip string, deviceID uint32) ([]string, error) {
	dev, err := deviceFor(ip)
	if err != nil {
		return nil, err
	}
	rp := types.ReadPropertyData{
		Object: types.Object{
			ID: types.ObjectID{
				Type:     types.ObjectType(deviceObjectTypeNumber),
				Instance: types.ObjectInstance(deviceID),
			},
			Properties: []types.Property{
				{Type: property.ObjectList, ArrayIndex: gobacnet.ArrayAll},
			},
		},
	}
	resp, err := c.client.ReadProperty(dev, rp)
	if err != nil {
		return nil, err
	}
	if len(resp.Object.Properties) == 0 {
		return nil, fmt.Errorf("object list response contained no properties")
	}

	var objects []string
	appendID := func(id types.ObjectID) {
		name, ok := libraryNameForNumber(uint16(id.Type))
		if !ok {
			return
		}
		objects = append(objects, fmt.Sprintf("%s:%d", name, uint32(id.Instance)))
	}
	switch data := resp.Object.Properties[0].Data.(type) {
	case []types.ObjectID:
		for _, id := range data {
			appendID(id)
		}
	case []interface{}:
		for _, item := range data {
			if id, ok := item.(types.ObjectID); ok {
				appendID(id)
			}
		}
	default:
		return nil, fmt.Errorf("unexpected object list payload type %T", data)
	}
	return objects, nil
}

func (c *gobacnetConn) ReadProperty(ip string, objectType models.ObjectType, objectID uint32, prop string) (any, error) {
	dev, err := deviceFor(ip)
	if err != nil {
		return nil, err
	}
	id, err := libObjectID(objectType, objectID)
	if err != nil {
		return nil, err
	}
	propID, ok := PropertyID(prop)
	if !ok {
		return nil, fmt.Errorf("unsupported property %q", prop)
	}
	rp := types.ReadPropertyData{
		Object: types.Object{
			ID: id,
			Properties: []types.Property{
				{Type: propID, ArrayIndex: gobacnet.ArrayAll},
			},
		},
	}
	resp, err := c.client.ReadProperty(dev, rp)
	if err != nil {
		return nil, err
	}
	if len(resp.Object.Properties) == 0 {
		return nil, fmt.Errorf("read response contained no properties")
	}
	return resp.Object.Properties[0].Data, nil
}

func (c *gobacnetConn) ReadMulti(ip string, requests []ReadRequest) (map[string]map[string]any, error) {
	dev, err := deviceFor(ip)
	if err != nil {
		return nil, err
	}

	objects := make([]types.Object, 0, len(requests))
	for _, req := range requests {
		id, err := libObjectID(req.ObjectType, req.ObjectID)
		if err != nil {
			return nil, err
		}
		props := make([]types.Property, 0, len(req.Properties))
		for _, prop := range req.Properties {
			propID, ok := PropertyID(prop)
			if !ok {
				return nil, fmt.Errorf("unsupported property %q", prop)
			}
			props = append(props, types.Property{Type: propID, ArrayIndex: gobacnet.ArrayAll})
		}
		objects = append(objects, types.Object{ID: id, Properties: props})
	}

	resp, err := c.client.ReadMultiProperty(dev, types.ReadMultipleProperty{Objects: objects})
	if err != nil {
		return nil, err
	}

	result := make(map[string]map[string]any, len(resp.Objects))
	for _, obj := range resp.Objects {
		name, ok := libraryNameForNumber(uint16(obj.ID.Type))
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s:%d", name, uint32(obj.ID.Instance))
		props := make(map[string]any, len(obj.Properties))
		for _, p := range obj.Properties {
			props[propertyNameForID(p.Type)] = p.Data
		}
		result[key] = props
	}
	return result, nil
}

func (c *gobacnetConn) WriteProperty(ip string, objectType models.ObjectType, objectID uint32, value float64, priority uint) error {
	dev, err := deviceFor(ip)
	if err != nil {
		return err
	}
	id, err := libObjectID(objectType, objectID)
	if err != nil {
		return err
	}

	// Analog present values are REAL on the wire; binary and multi-state
	// take enumerated unsigned values.
	var data interface{}
	switch objectType {
	case models.ObjectBinaryInput, models.ObjectBinaryOutput, models.ObjectBinaryValue,
		models.ObjectMultiStateInput, models.ObjectMultiStateOutput, models.ObjectMultiStateValue:
		data = uint32(value)
	default:
		data = float32(value)
	}

	wp := types.ReadPropertyData{
		Object: types.Object{
			ID: id,
			Properties: []types.Property{
				{Type: property.PresentValue, ArrayIndex: gobacnet.ArrayAll, Data: data},
			},
		},
	}
	return c.client.WriteProperty(dev, wp, priority)
}

// deviceObjectTypeNumber is the ASHRAE object type number for device
// objects, used when reading a controller's object list.
const deviceObjectTypeNumber = 8

// libraryNameForNumber maps an ASHRAE object type number back to the
// library's hyphenated name.
func libraryNameForNumber(num uint16) (string, bool) {
	for canonical, n := range objectTypeNumbers {
		if n == num {
			name, ok := libraryObjectNames[canonical]
			return name, ok
		}
	}
	return "", false
}

// propertyNameForID maps an ASHRAE property identifier back to the
// canonical property name. Unknown identifiers keep their numeric form.
func propertyNameForID(id uint32) string {
	for name, n := range propertyIDs {
		if n == id {
			return name
		}
	}
	return fmt.Sprintf("property-%d", id)
}

var _ Conn = (*gobacnetConn)(nil)
