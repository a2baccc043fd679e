package mtproto

import (
	"github.com/carlmjohnson/versioninfo"
	"github.com/gram-proto/gram/tl"
)

// SchemaLayer is the negotiated wire-schema version. Bumping it is a
// deliberate, out-of-band decision (new constructor IDs, changed field
// sets); it is not derived from the build.
const SchemaLayer = 181

// InvokeWithLayer boxes body as {invokeWithLayer#layer, query: body}, the
// wrapper every fresh auth key's first request must carry. The
// client's own build identity (for diagnostics, not negotiation) is read
// from versioninfo.Revision so a server-side log correlating a layer bump
// with a client build doesn't require a separate version string threaded
// through every call site.
func InvokeWithLayer(body []byte) []byte {
	w := tl.NewWriter(8 + len(body))
	w.PutConstructor(constructorInvokeWithLayer)
	w.PutInt32(SchemaLayer)
	w.PutRaw(body)
	return w.Bytes()
}

// ClientBuildRevision reports the VCS revision this binary was built from,
// for inclusion in diagnostic InitConnection-style metadata.
func ClientBuildRevision() string {
	return versioninfo.Revision
}
