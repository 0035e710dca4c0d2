package wayland

// Protocol tables for the interfaces this client touches. Only the requests
// we send and the events we handle are named; opcode values come from the
// wayland.xml, primary-selection-unstable-v1.xml, and
// gtk-primary-selection.xml protocol definitions.

// Interface names as the registry announces them.
const (
	ifaceDisplay    = "wl_display"
	ifaceRegistry   = "wl_registry"
	ifaceCallback   = "wl_callback"
	ifaceSeat       = "wl_seat"
	ifaceKeyboard   = "wl_keyboard"
	ifacePointer    = "wl_pointer"
	ifaceDDM        = "wl_data_device_manager"
	ifaceDataSource = "wl_data_source"
	ifaceDataDevice = "wl_data_device"
	ifaceDataOffer  = "wl_data_offer"
	ifaceZwpManager = "zwp_primary_selection_device_manager_v1"
	ifaceZwpSource  = "zwp_primary_selection_source_v1"
	ifaceZwpDevice  = "zwp_primary_selection_device_v1"
	ifaceZwpOffer   = "zwp_primary_selection_offer_v1"
	ifaceGtkManager = "gtk_primary_selection_device_manager"
	ifaceGtkSource  = "gtk_primary_selection_source"
	ifaceGtkDevice  = "gtk_primary_selection_device"
	ifaceGtkOffer   = "gtk_primary_selection_offer"
)

// Object ids at and above serverIDMin are allocated by the compositor.
const serverIDMin = 0xff000000

// wl_display is object 1 on every connection.
const displayID = 1

const (
	reqDisplaySync     = 0
	reqDisplayRegistry = 1

	evtDisplayError    = 0
	evtDisplayDeleteID = 1
)

const (
	reqRegistryBind = 0

	evtRegistryGlobal       = 0
	evtRegistryGlobalRemove = 1
)

const evtCallbackDone = 0

// We bind wl_seat at up to version 5 so capability-driven device release is
// available (wl_keyboard/wl_pointer.release need 3, wl_seat.release needs 5).
const seatMaxVersion = 5

const (
	reqSeatGetPointer  = 0
	reqSeatGetKeyboard = 1
	reqSeatRelease     = 3 // since 5

	evtSeatCapabilities = 0
	evtSeatName         = 1

	seatCapPointer  = 1 << 0
	seatCapKeyboard = 1 << 1
)

const (
	reqKeyboardRelease = 0 // since 3

	evtKeyboardKeymap    = 0
	evtKeyboardEnter     = 1
	evtKeyboardLeave     = 2
	evtKeyboardKey       = 3
	evtKeyboardModifiers = 4
)

const (
	reqPointerRelease = 1 // since 3

	evtPointerEnter  = 0
	evtPointerLeave  = 1
	evtPointerButton = 3
)

const (
	reqDDMCreateSource = 0
	reqDDMGetDevice    = 1
)

// The three source interfaces share request opcodes: offer is 0 and the
// destructor is 1 on wl_data_source and both primary variants.
const (
	reqSourceOffer   = 0
	reqSourceDestroy = 1

	evtDataSourceTarget    = 0
	evtDataSourceSend      = 1
	evtDataSourceCancelled = 2

	evtPrimarySourceSend      = 0
	evtPrimarySourceCancelled = 1
)

const (
	reqDataDeviceSetSelection = 1

	evtDataDeviceDataOffer = 0
	evtDataDeviceSelection = 5
)

// zwp and gtk primary-selection devices share their opcode layout.
const (
	reqPrimaryDeviceSetSelection = 0
	reqPrimaryDeviceDestroy      = 1

	evtPrimaryDeviceDataOffer = 0
	evtPrimaryDeviceSelection = 1
)

// Both primary managers: create_source is 0, get_device is 1.
const (
	reqPrimaryMgrCreateSource = 0
	reqPrimaryMgrGetDevice    = 1
)

const (
	reqDataOfferReceive = 1
	reqDataOfferDestroy = 2

	reqPrimaryOfferReceive = 0
	reqPrimaryOfferDestroy = 1

	evtOfferOffer = 0 // same opcode on all three offer interfaces
)

// eventFDCount reports how many file descriptors an event carries. The
// dispatcher uses it to drain the ancillary queue for messages addressed to
// objects we have already destroyed.
func eventFDCount(iface string, op uint16) int {
	switch {
	case iface == ifaceKeyboard && op == evtKeyboardKeymap:
		return 1
	case iface == ifaceDataSource && op == evtDataSourceSend:
		return 1
	case (iface == ifaceZwpSource || iface == ifaceGtkSource) && op == evtPrimarySourceSend:
		return 1
	}
	return 0
}
