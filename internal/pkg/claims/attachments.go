package claims

// AttachmentRef is the metadata merged into a bundle for an uploaded attachment
type AttachmentRef struct {
	AttachmentID string
	FileName     string
	ContentType  string
	SizeBytes    *int64
	OnlineURL    string
}

// MergeAttachments adds or updates entries of the bundle's attachments array
// by attachment id. Existing entries only get their online URL refreshed.
func MergeAttachments(b Bundle, refs []AttachmentRef) {
	arr, _ := b[SectionAttachments].([]interface{})
	index := make(map[string]Object, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]interface{}); ok {
			if id := String(obj["attachmentId"]); id != "" {
				index[id] = obj
			}
		}
	}

	for _, ref := range refs {
		if existing, ok := index[ref.AttachmentID]; ok {
			existing["onlineUrl"] = ref.OnlineURL
			continue
		}
		entry := Object{
			"attachmentId": ref.AttachmentID,
			"fileName":     nullable(ref.FileName),
			"contentType":  nullable(ref.ContentType),
			"sizeBytes":    nil,
			"onlineUrl":    ref.OnlineURL,
		}
		if ref.SizeBytes != nil {
			entry["sizeBytes"] = *ref.SizeBytes
		}
		arr = append(arr, entry)
		index[ref.AttachmentID] = entry
	}
	if arr == nil {
		arr = []interface{}{}
	}
	b[SectionAttachments] = arr
}

// SetRouting writes the routing identifiers into the header. The
// provider_dhsCode staging field is replaced by providerCode, and bCR_Id is
// only written when known.
// A numeric batch reference is written as an integer.
func SetRouting(b Bundle, providerCode, bcrID string) {
	h := b.Header()
	if h == nil {
		return
	}
	RemoveIgnoreCase(h, "provider_dhsCode")
	RemoveIgnoreCase(h, "providerCode")
	h["providerCode"] = providerCode
	if bcrID == "" {
		return
	}
	RemoveIgnoreCase(h, "bCR_Id")
	if n, ok := AsInt64(bcrID); ok {
		h["bCR_Id"] = n
	} else {
		h["bCR_Id"] = bcrID
	}
}

// SetStagingRouting records the provider and any known batch reference on a
// freshly built bundle. Dispatch rewrites both before sending.
func SetStagingRouting(b Bundle, providerCode, bcrID string) {
	h := b.Header()
	if h == nil {
		return
	}
	h["provider_dhsCode"] = providerCode
	if n, ok := AsInt64(bcrID); ok {
		h["bCR_Id"] = n
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
