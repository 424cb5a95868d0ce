package pyexec

// harness is the Python stub that runs one feature function per
// invocation. It is passed to the interpreter via -c, with the script
// path and function name as arguments; the JSON argument object arrives
// on stdin and the JSON result object leaves on stdout.
//
// The stub defines a pass-through myFeature decorator so scripts need
// no imports, and redirects user prints to stderr so they cannot
// corrupt the result channel. Contract enforcement stays on the Go
// side.
const harness = `import json
import sys

def myFeature(requires, provides):
    def wrap(f):
        return f
    return wrap

def _jsonable(obj):
    if hasattr(obj, "tolist"):
        return obj.tolist()
    try:
        return float(obj)
    except (TypeError, ValueError):
        return str(obj)

def main():
    path, name = sys.argv[1], sys.argv[2]
    with open(path) as f:
        src = f.read()

    real_stdout = sys.stdout
    sys.stdout = sys.stderr

    ns = {"myFeature": myFeature, "__name__": "featuredefs"}
    exec(compile(src, path, "exec"), ns)

    fn = ns.get(name)
    if fn is None:
        sys.stderr.write("function %s not found in script\n" % name)
        sys.exit(3)

    args = json.load(sys.stdin)
    result = fn(**args)
    if not isinstance(result, dict):
        sys.stderr.write("function %s returned %s, want dict\n"
                         % (name, type(result).__name__))
        sys.exit(4)

    json.dump(result, real_stdout, default=_jsonable)

main()
`
