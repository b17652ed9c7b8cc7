package ospackage

type requirement struct {
	entry    []string
	instance []string
}

type reqKey struct {
	legacy bool
	key    bool
	op     Operation
}

var requirements = map[reqKey]requirement{
	{legacy: true, key: false, op: OpVerify}:   {entry: []string{"name", "version"}},
	{legacy: true, key: false, op: OpInstall}:  {entry: []string{"name", "version", "url"}},
	{legacy: true, key: true, op: OpVerify}:    {entry: []string{"name", "version"}},
	{legacy: true, key: true, op: OpInstall}:   {entry: []string{"name", "version"}},
	{legacy: false, key: false, op: OpVerify}:  {entry: []string{"name"}, instance: []string{"version", "release", "arch"}},
	{legacy: false, key: false, op: OpInstall}: {entry: []string{"name", "uri"}, instance: []string{"simplefile", "version", "release", "arch"}},
	{legacy: false, key: true, op: OpVerify}:   {entry: []string{"name"}, instance: []string{"version", "release"}},
	{legacy: false, key: true, op: OpInstall}:  {entry: []string{"name"}, instance: []string{"version", "release"}},
}

// CanVerify checks that e carries the attributes verification needs.
func CanVerify(e *DesiredEntry) error {
	return checkRequired(e, OpVerify)
}

// CanInstall checks that e carries the attributes remediation needs.
func CanInstall(e *DesiredEntry) error {
	return checkRequired(e, OpInstall)
}

func checkRequired(e *DesiredEntry, op Operation) error {
	key := e.Kind == KindGPGKey || (e.Kind == KindUnspecified && e.Name == KeyPackageName)
	req := requirements[reqKey{legacy: e.IsLegacy(), key: key, op: op}]

	var missing []string
	for _, attr := range req.entry {
		if !entryHas(e, attr) {
			missing = append(missing, attr)
		}
	}
	for _, inst := range e.Instances {
		// synthesized instances were covered by the entry check
		if inst.Legacy {
			continue
		}
		for _, attr := range req.instance {
			if !instanceHas(inst, attr) {
				missing = append(missing, "instance "+inst.EVRA()+" "+attr)
			}
		}
		if key && op == OpInstall && e.ArtifactPath(inst) == "" {
			missing = append(missing, "instance "+inst.EVRA()+" simplefile")
		}
	}
	if len(missing) > 0 {
		return &IncompleteEntryError{Entry: e.Name, Operation: op, Missing: missing}
	}
	return nil
}

func entryHas(e *DesiredEntry, attr string) bool {
	switch attr {
	case "name":
		return e.Name != ""
	case "version":
		return e.Version != ""
	case "url":
		return e.URL != ""
	case "uri":
		return e.URI != ""
	}
	return false
}

func instanceHas(inst *DesiredInstance, attr string) bool {
	switch attr {
	case "version":
		return inst.Version != ""
	case "release":
		return inst.Release != ""
	case "arch":
		return inst.Arch != ""
	case "simplefile":
		return inst.SimpleFile != ""
	}
	return false
}
